//go:build !unix

package capture

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("pausing capture is not supported on this platform")

func suspend(*os.Process) error {
	return errPauseUnsupported
}

func resume(*os.Process) error {
	return errPauseUnsupported
}

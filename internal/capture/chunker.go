package capture

import (
	"errors"
	"io"
	"time"
)

const readSize = 32 * 1024

// chunker accumulates stream output and cuts it into one chunk per tick
type chunker struct {
	pending []byte
}

func (c *chunker) add(p []byte) {
	c.pending = append(c.pending, p...)
}

// flush returns the accumulated bytes, or nil if there are none
func (c *chunker) flush() []byte {
	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

// run reads r until EOF, emitting accumulated bytes on every tick. Whatever
// remains at EOF is emitted as a final chunk. A clean EOF returns nil.
//
// A request on flushes cuts everything read so far once the stream has been
// quiet for settle, and closes the request channel after the chunk has been
// emitted.
func (c *chunker) run(r io.Reader, ticks <-chan time.Time, flushes <-chan chan struct{}, settle time.Duration, emit func([]byte)) error {
	reads := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(reads)
		buf := make([]byte, readSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				p := make([]byte, n)
				copy(p, buf[:n])
				reads <- p
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	for {
		select {
		case p, ok := <-reads:
			if !ok {
				return c.finish(errc, emit)
			}
			c.add(p)
		case <-ticks:
			if chunk := c.flush(); chunk != nil {
				emit(chunk)
			}
		case reply := <-flushes:
			eof := c.settle(reads, settle)
			if chunk := c.flush(); chunk != nil {
				emit(chunk)
			}
			close(reply)
			if eof {
				return c.finish(errc, emit)
			}
		}
	}
}

// settle keeps reading until nothing arrived for d. It reports whether the
// stream hit EOF meanwhile.
func (c *chunker) settle(reads <-chan []byte, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case p, ok := <-reads:
			if !ok {
				return true
			}
			c.add(p)
			timer.Reset(d)
		case <-timer.C:
			return false
		}
	}
}

func (c *chunker) finish(errc <-chan error, emit func([]byte)) error {
	if tail := c.flush(); tail != nil {
		emit(tail)
	}
	if err := <-errc; !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

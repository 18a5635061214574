package recording

// State is the lifecycle state of a recording session
type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event drives a state transition
type Event string

const (
	EventStart       Event = "start"
	EventPause       Event = "pause"
	EventResume      Event = "resume"
	EventStop        Event = "stop"
	EventSourceEnded Event = "source-ended"
)

type transition struct {
	next State
	noop bool
}

// transitions lists every legal (state, event) pair. Anything absent is an
// invalid transition. Entries marked noop absorb duplicate triggers.
var transitions = map[State]map[Event]transition{
	Idle: {
		EventStart: {next: Recording},
	},
	Recording: {
		EventPause:       {next: Paused},
		EventResume:      {next: Recording, noop: true},
		EventStop:        {next: Stopped},
		EventSourceEnded: {next: Stopped},
	},
	Paused: {
		EventPause:       {next: Paused, noop: true},
		EventResume:      {next: Recording},
		EventStop:        {next: Stopped},
		EventSourceEnded: {next: Stopped},
	},
	Stopped: {
		EventStop:        {next: Stopped, noop: true},
		EventSourceEnded: {next: Stopped, noop: true},
	},
}

func lookup(from State, ev Event) (transition, error) {
	t, ok := transitions[from][ev]
	if !ok {
		return transition{}, &TransitionError{From: from, Event: ev}
	}
	return t, nil
}

package xcode

import "fmt"

// SessionState is a Put stream's position in the §4.6 streaming session
// state machine: Idle -> FirstFrame -> Streaming -> EndOfStream ->
// Completed, with Cancelled reachable from any non-terminal state.
type SessionState int

const (
	Idle SessionState = iota
	FirstFrame
	Streaming
	EndOfStream
	Completed
	Cancelled
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case FirstFrame:
		return "first-frame"
	case Streaming:
		return "streaming"
	case EndOfStream:
		return "end-of-stream"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// errInvalidTransition reports a frame arriving in a state that can't
// legally accept it.
func errInvalidTransition(from SessionState, event string) error {
	return fmt.Errorf("xcode: invalid %s in state %s", event, from)
}

// putSession drives one Put stream through the state machine, accumulating
// the declared hash and body bytes as frames arrive.
type putSession struct {
	state SessionState
	hash  string
	buf   []byte
}

// declareHash consumes the session's first frame, which must carry a hash.
func (s *putSession) declareHash(hash string) error {
	if s.state != Idle {
		return errInvalidTransition(s.state, "declare-hash")
	}
	if hash == "" {
		return fmt.Errorf("xcode: first frame missing hash")
	}
	s.state = FirstFrame
	s.hash = hash
	s.state = Streaming
	return nil
}

// appendData consumes a non-terminal streaming frame's payload.
func (s *putSession) appendData(data []byte) error {
	if s.state != Streaming {
		return errInvalidTransition(s.state, "data-frame")
	}
	s.buf = append(s.buf, data...)
	return nil
}

// finish consumes the frame carrying Eof, completing the session.
func (s *putSession) finish() error {
	if s.state != Streaming {
		return errInvalidTransition(s.state, "end-of-stream")
	}
	s.state = EndOfStream
	s.state = Completed
	return nil
}

// cancel transitions the session to Cancelled from any non-terminal state.
func (s *putSession) cancel() {
	if s.state != Completed {
		s.state = Cancelled
	}
}

package ipc

import "fmt"

// TransportErrorKind classifies a TransportError
type TransportErrorKind int

const (
	TransportErrorNoSink TransportErrorKind = iota
	TransportErrorNoSource
	TransportErrorWrite
	TransportErrorRead
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportErrorNoSink:
		return "NoSink"
	case TransportErrorNoSource:
		return "NoSource"
	case TransportErrorWrite:
		return "Write"
	case TransportErrorRead:
		return "Read"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// TransportError is returned when the underlying byte stream is missing or fails
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case TransportErrorNoSink:
		return "transport error: no sink attached"
	case TransportErrorNoSource:
		return "transport error: no source attached"
	case TransportErrorWrite:
		return fmt.Sprintf("transport error: write failed: %v", e.Err)
	case TransportErrorRead:
		return fmt.Sprintf("transport error: read failed: %v", e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches any TransportError of the same kind, so callers can write
// errors.Is(err, ErrNoSink).
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Kind == e.Kind && t.Err == nil
}

// Sentinels for errors.Is
var (
	ErrNoSink   = &TransportError{Kind: TransportErrorNoSink}
	ErrNoSource = &TransportError{Kind: TransportErrorNoSource}
	ErrWrite    = &TransportError{Kind: TransportErrorWrite}
	ErrRead     = &TransportError{Kind: TransportErrorRead}
)

// ProtocolErrorKind classifies a ProtocolError
type ProtocolErrorKind int

const (
	ProtocolErrorDecode ProtocolErrorKind = iota
	ProtocolErrorEncode
	ProtocolErrorOversize
)

// ProtocolError reports a message that cannot be encoded or decoded.
// On the receive side it only ever costs the one offending message.
type ProtocolError struct {
	Kind    ProtocolErrorKind
	Message string
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case ProtocolErrorDecode:
		return fmt.Sprintf("protocol error: invalid message: %s", e.Message)
	case ProtocolErrorEncode:
		return fmt.Sprintf("protocol error: cannot encode message: %s", e.Message)
	case ProtocolErrorOversize:
		return fmt.Sprintf("protocol error: message too large: %s", e.Message)
	default:
		return fmt.Sprintf("protocol error: %s", e.Message)
	}
}

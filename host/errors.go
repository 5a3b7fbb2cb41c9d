package host

import "fmt"

// WiringErrorType enumerates why a plugin could not be wired
type WiringErrorType int

const (
	WiringErrorMalformed WiringErrorType = iota
	WiringErrorAlreadyWired
	WiringErrorNotWired
	WiringErrorIDMismatch
)

// WiringError reports a plugin the host could not connect or disconnect
type WiringError struct {
	Type     WiringErrorType
	PluginID string
	Reason   string
}

func (e *WiringError) Error() string {
	switch e.Type {
	case WiringErrorMalformed:
		if e.PluginID == "" {
			return fmt.Sprintf("malformed plugin: %s", e.Reason)
		}
		return fmt.Sprintf("malformed plugin %q: %s", e.PluginID, e.Reason)
	case WiringErrorAlreadyWired:
		return fmt.Sprintf("plugin %q is already wired", e.PluginID)
	case WiringErrorNotWired:
		return fmt.Sprintf("plugin %q is not wired", e.PluginID)
	case WiringErrorIDMismatch:
		return fmt.Sprintf("plugin registered as %q: %s", e.PluginID, e.Reason)
	default:
		return fmt.Sprintf("plugin %q: %s", e.PluginID, e.Reason)
	}
}

// Is matches on Type, and on PluginID when the target sets one
func (e *WiringError) Is(target error) bool {
	t, ok := target.(*WiringError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.PluginID == "" || t.PluginID == e.PluginID)
}

var (
	ErrMalformedPlugin = &WiringError{Type: WiringErrorMalformed}
	ErrAlreadyWired    = &WiringError{Type: WiringErrorAlreadyWired}
	ErrNotWired        = &WiringError{Type: WiringErrorNotWired}
	ErrIDMismatch      = &WiringError{Type: WiringErrorIDMismatch}
)

func malformed(id, reason string) *WiringError {
	return &WiringError{Type: WiringErrorMalformed, PluginID: id, Reason: reason}
}

package ipc

// Protocol version spoken by this host. Plugins declare the range they
// support in their manifest.
const ProtocolVersion int = 1

// Terminator is the byte that ends every encoded message on the wire.
// Codecs guarantee it never occurs inside an encoding.
const Terminator byte = 0x00

// Default read buffer size for the receive loop (4 KB)
const DefaultReadBufferSize int = 4096

// Default maximum size of a single encoded message (16 MB)
const DefaultMaxMessageSize int = 16_777_216

// Limits bounds the receive side of a Channel
type Limits struct {
	ReadBufferSize int `yaml:"read_buffer_size"`
	MaxMessageSize int `yaml:"max_message_size"`
}

// DefaultLimits returns the default channel limits
func DefaultLimits() Limits {
	return Limits{
		ReadBufferSize: DefaultReadBufferSize,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// withDefaults fills zero fields from DefaultLimits
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.ReadBufferSize <= 0 {
		l.ReadBufferSize = d.ReadBufferSize
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = d.MaxMessageSize
	}
	return l
}

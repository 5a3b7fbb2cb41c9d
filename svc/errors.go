package svc

import "fmt"

// ErrorCode is the value carried in the data field of an error envelope
type ErrorCode string

const (
	CodeServiceNotFound   ErrorCode = "SERVICE_NOT_FOUND"
	CodeServiceNotHandled ErrorCode = "SERVICE_NOT_HANDLED"
	CodeRequestTimeout    ErrorCode = "REQUEST_TIMEOUT"
)

// ErrorType classifies a ServiceError
type ErrorType int

const (
	ErrorTypeServiceNotFound ErrorType = iota
	ErrorTypeServiceNotHandled
	ErrorTypeRequestTimeout
)

// Code returns the wire code for t
func (t ErrorType) Code() ErrorCode {
	switch t {
	case ErrorTypeServiceNotFound:
		return CodeServiceNotFound
	case ErrorTypeRequestTimeout:
		return CodeRequestTimeout
	default:
		return CodeServiceNotHandled
	}
}

// errorTypeFromCode maps a wire code back to a type. Unknown codes from a
// newer peer degrade to ServiceNotHandled.
func errorTypeFromCode(code ErrorCode) ErrorType {
	switch code {
	case CodeServiceNotFound:
		return ErrorTypeServiceNotFound
	case CodeRequestTimeout:
		return ErrorTypeRequestTimeout
	default:
		return ErrorTypeServiceNotHandled
	}
}

// ServiceError is returned by Registry.Dispatch and Communicator.Send.
// Remote is set when the error was reported by the peer in an error
// envelope rather than raised locally.
type ServiceError struct {
	Type    ErrorType
	Service string
	Remote  bool
	Code    ErrorCode
}

func (e *ServiceError) Error() string {
	where := ""
	if e.Remote {
		where = " (remote)"
	}
	switch e.Type {
	case ErrorTypeServiceNotFound:
		return fmt.Sprintf("service not found: %q%s", e.Service, where)
	case ErrorTypeServiceNotHandled:
		if e.Code != "" && e.Code != CodeServiceNotHandled {
			return fmt.Sprintf("service not handled: %q [%s]%s", e.Service, e.Code, where)
		}
		return fmt.Sprintf("service not handled: %q%s", e.Service, where)
	case ErrorTypeRequestTimeout:
		return fmt.Sprintf("request timed out: %q%s", e.Service, where)
	default:
		return fmt.Sprintf("service error: %q%s", e.Service, where)
	}
}

// Is matches sentinel errors by type, so errors.Is(err, ErrServiceNotFound)
// holds for any service name, local or remote.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Service == "" || t.Service == e.Service)
}

// Sentinels for errors.Is
var (
	ErrServiceNotFound   = &ServiceError{Type: ErrorTypeServiceNotFound}
	ErrServiceNotHandled = &ServiceError{Type: ErrorTypeServiceNotHandled}
	ErrRequestTimeout    = &ServiceError{Type: ErrorTypeRequestTimeout}
)

func newServiceNotFound(service string) *ServiceError {
	return &ServiceError{Type: ErrorTypeServiceNotFound, Service: service, Code: CodeServiceNotFound}
}

func newRequestTimeout(service string) *ServiceError {
	return &ServiceError{Type: ErrorTypeRequestTimeout, Service: service, Code: CodeRequestTimeout}
}

func newRemoteError(service string, code ErrorCode) *ServiceError {
	return &ServiceError{Type: errorTypeFromCode(code), Service: service, Remote: true, Code: code}
}

package protocol

import "errors"

var (
	// ErrMalformedEnvelope is returned for envelopes without an instance id or
	// from a sender that is not a known peer's transport.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrChannelNotFound is returned when a channel cannot be resolved.
	ErrChannelNotFound = errors.New("channel does not exist")
	// ErrListenerNotFound is returned when a listener id cannot be resolved.
	ErrListenerNotFound = errors.New("listener does not exist")
	// ErrInvalidContext is returned when a context carries no type.
	ErrInvalidContext = errors.New("invalid context")
	// ErrInvalidAction is returned for unrecognized action tags.
	ErrInvalidAction = errors.New("invalid action")
	// ErrNotImplemented is returned by placeholder operations.
	ErrNotImplemented = errors.New("not implemented")
	// ErrMissingBootstrapParameters is returned when a peer is started without
	// its origin or instance id.
	ErrMissingBootstrapParameters = errors.New("missing bootstrap parameters")
	// ErrConnectTimeout is returned when the broker does not assign a channel
	// within the connect window.
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrTimeout is returned when a reply does not arrive within the request window.
	ErrTimeout = errors.New("request timed out")
	// ErrAppNotFound is returned when OPEN names an app that cannot be resolved.
	ErrAppNotFound = errors.New("app not found")
	// ErrNotConnected is returned for operations that need an established connection.
	ErrNotConnected = errors.New("not connected")
)

// ErrorCode is the wire name of an error.
type ErrorCode string

const (
	CodeMalformedEnvelope ErrorCode = "MalformedEnvelope"
	CodeChannelNotFound   ErrorCode = "ChannelNotFound"
	CodeListenerNotFound  ErrorCode = "ListenerNotFound"
	CodeInvalidContext    ErrorCode = "InvalidContext"
	CodeInvalidAction     ErrorCode = "InvalidAction"
	CodeNotImplemented    ErrorCode = "NotImplemented"
	CodeAppNotFound       ErrorCode = "AppNotFound"
	CodeNotConnected      ErrorCode = "NotConnected"
	CodeUnknown           ErrorCode = "Unknown"
)

var codes = []struct {
	code ErrorCode
	err  error
}{
	{CodeMalformedEnvelope, ErrMalformedEnvelope},
	{CodeChannelNotFound, ErrChannelNotFound},
	{CodeListenerNotFound, ErrListenerNotFound},
	{CodeInvalidContext, ErrInvalidContext},
	{CodeInvalidAction, ErrInvalidAction},
	{CodeNotImplemented, ErrNotImplemented},
	{CodeAppNotFound, ErrAppNotFound},
	{CodeNotConnected, ErrNotConnected},
}

// ErrorDescriptor is the error attached to an echoed envelope.
type ErrorDescriptor struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// NewErrorDescriptor converts err into its wire form.
func NewErrorDescriptor(err error) *ErrorDescriptor {
	if err == nil {
		return nil
	}
	var desc *ErrorDescriptor
	if errors.As(err, &desc) {
		return &ErrorDescriptor{Code: desc.Code, Message: desc.Message}
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return &ErrorDescriptor{Code: c.code, Message: err.Error()}
		}
	}
	return &ErrorDescriptor{Code: CodeUnknown, Message: err.Error()}
}

func (e *ErrorDescriptor) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap returns the sentinel error matching the code, if any.
func (e *ErrorDescriptor) Unwrap() error {
	for _, c := range codes {
		if c.code == e.Code {
			return c.err
		}
	}
	return nil
}

package protocol

import "errors"

// Closed set of JSON-RPC error codes (§3). Any handler-raised failure
// without a numeric code attached maps to CodeServerError.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// CodedError lets a handler attach a specific wire error code to a Go
// error. Handlers that return a plain error get CodeServerError; handlers
// that want a precise code (e.g. invalid-params) wrap their error in this
// type.
type CodedError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *CodedError) Error() string {
	return e.Message
}

// NewCodedError builds a CodedError with an explicit wire code.
func NewCodedError(code int, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// codeOf extracts the wire code from err if it is or wraps a *CodedError,
// otherwise returns CodeServerError.
func codeOf(err error) int {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeServerError
}

// ErrorFromErr builds a Response error envelope from an arbitrary Go error,
// honoring an attached CodedError's code and falling back to
// CodeServerError per §7's handler-error taxonomy.
func ErrorFromErr(id interface{}, err error) *Response {
	return NewError(id, codeOf(err), err.Error(), nil)
}

package coordinator

import "fmt"

const (
	CodeValidation       = "VALIDATION"
	CodeNoTab            = "NO_TAB"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeCaptureNotFound  = "CAPTURE_NOT_FOUND"
	CodeProjectNotFound  = "PROJECT_NOT_FOUND"
	CodeBlobNotFound     = "BLOB_NOT_FOUND"
	CodeStoreFailure     = "STORE_FAILURE"
	CodeAgentUnavailable = "AGENT_UNAVAILABLE"
	CodeEvalTimeout      = "EVAL_TIMEOUT"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

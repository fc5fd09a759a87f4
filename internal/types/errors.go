package types

import "fmt"

const (
	CodeValidation       = "VALIDATION"
	CodeDiscoveryFailed  = "DISCOVERY_FAILED"
	CodeTargetNotFound   = "TARGET_NOT_FOUND"
	CodeTargetClosed     = "TARGET_CLOSED"
	CodeSelectorNotFound = "SELECTOR_NOT_FOUND"
	CodeCommandTimeout   = "COMMAND_TIMEOUT"
	CodeWaitTimeout      = "WAIT_TIMEOUT"
	CodeChannelClosed    = "CHANNEL_CLOSED"
	CodeLaunchFailed     = "LAUNCH_FAILED"
	CodeEvalFailure      = "EVAL_FAILURE"
)

// CodedError is a typed error used for stable mapping at the tool and HTTP
// boundaries.
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

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

package errors

// APIError represents a standardized error response.
// Code is a stable machine-readable string (see codes.go); Error is the
// human-readable message.
type APIError struct {
	Code    string                 `json:"code"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given code, message and optional details.
func NewAPIError(code, message string, details map[string]interface{}) *APIError {
	return &APIError{
		Code:    code,
		Error:   message,
		Details: details,
	}
}

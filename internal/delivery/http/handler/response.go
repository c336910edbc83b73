package handler

// ErrorResponse is the uniform error body for API failures. ReqID and
// SessionID are set on the conflict variants that carry them.
type ErrorResponse struct {
	Error     string `json:"error"`
	ReqID     string `json:"reqId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

package server

import "strings"

// errorResponse is the JSON body of every failed API request.
type errorResponse struct {
	Error string `json:"error"`
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status   string `json:"status"`
	Online   int    `json:"online"`
	Store    string `json:"store"`
	Presence string `json:"presence,omitempty"`
	Mirrored *int64 `json:"mirrored,omitempty"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

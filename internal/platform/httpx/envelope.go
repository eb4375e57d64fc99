package httpx

import "net/http"

// Envelope is the uniform response body of the admin API. Success responses
// carry Data; failures carry a stable machine-readable Code plus a human
// message, and optionally Data with extra context.
type Envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK sends a success envelope.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Success: true, Data: data})
}

// Fail sends a failure envelope.
func Fail(w http.ResponseWriter, status int, code, message string, data any) {
	JSON(w, status, Envelope{Success: false, Code: code, Message: message, Data: data})
}

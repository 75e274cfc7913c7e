package utilities

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the uniform REST envelope. Success responses carry
// Data; failures carry Message and optionally field-level Errors.
type APIResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
	Errors     any    `json:"errors,omitempty"`
}

// RespondJSON writes a success envelope with the given status and payload.
func RespondJSON(w http.ResponseWriter, status int, data any, message string) {
	writeEnvelope(w, APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < 400,
	})
}

// RespondError writes a failure envelope. Callers must not pass internal
// error detail in message; map to a stable human-readable string first.
func RespondError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, APIResponse{
		StatusCode: status,
		Message:    message,
		Success:    false,
	})
}

// RespondFieldErrors writes a failure envelope with field-level errors.
func RespondFieldErrors(w http.ResponseWriter, status int, message string, errs any) {
	writeEnvelope(w, APIResponse{
		StatusCode: status,
		Message:    message,
		Success:    false,
		Errors:     errs,
	})
}

func writeEnvelope(w http.ResponseWriter, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

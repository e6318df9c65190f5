package api

import "net/http"

func clientError(w http.ResponseWriter, status int, msg string) {
	Write(w, Response{Status: StatusError, Code: status, HTTPStatus: status, Message: msg})
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, msg string) {
	clientError(w, http.StatusBadRequest, msg)
}

// Unauthorized writes a 401 error response.
func Unauthorized(w http.ResponseWriter) {
	clientError(w, http.StatusUnauthorized, "Authentication required")
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, msg string) {
	clientError(w, http.StatusNotFound, msg)
}

// TooLarge writes a 413 error response.
func TooLarge(w http.ResponseWriter, msg string) {
	clientError(w, http.StatusRequestEntityTooLarge, msg)
}

// TooManyRequests writes a 429 error response.
func TooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	clientError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

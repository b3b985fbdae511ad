// Package httpjson writes the JSON response bodies shared by the API and its
// middleware.
package httpjson

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Write sends data as a JSON response with the given status.
func Write(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// Error sends msg in an ErrorBody.
func Error(w http.ResponseWriter, status int, msg string) error {
	return Write(w, status, ErrorBody{Error: msg})
}

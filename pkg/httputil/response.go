// Package httputil provides HTTP handler utilities for consistent
// response envelopes, JSON decoding, and common middleware.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorDetail is a structured error entry carried alongside the message
// in failure responses.
type ErrorDetail struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}

// Envelope is the response body shape shared by every endpoint
type Envelope struct {
	Message string        `json:"message"`
	Errors  []ErrorDetail `json:"errors,omitempty"`
	User    interface{}   `json:"user,omitempty"`
	Users   interface{}   `json:"users,omitempty"`
	Token   string        `json:"token,omitempty"`

	Group       interface{} `json:"group,omitempty"`
	Groups      interface{} `json:"groups,omitempty"`
	CreditCard  interface{} `json:"creditCard,omitempty"`
	CreditCards interface{} `json:"creditCards,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteMessage writes a bare message envelope
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Envelope{Message: message})
}

// WriteMessageWithErrors writes a message envelope carrying error details
func WriteMessageWithErrors(w http.ResponseWriter, status int, message string, errs ...ErrorDetail) {
	WriteJSON(w, status, Envelope{Message: message, Errors: errs})
}

// Package handlers exposes the operator REST surface and the delivery
// webhooks.
package handlers

import (
	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the JSON error body for failed requests.
type ErrorResponse struct {
	Message string `json:"message"`
}

var validate = validator.New()

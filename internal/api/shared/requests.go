package shared

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Global validator instance for reuse
var validate = validator.New()

// DecodeJSON decodes the request body into the given struct.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// DecodeOptionalJSON is DecodeJSON for endpoints whose body may be omitted.
// An empty body leaves v untouched, whatever the request's ContentLength.
func DecodeOptionalJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := DecodeJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ValidateRequest validates the given struct using the validator package.
func ValidateRequest(v interface{}) error {
	// Check if the object implements the Validate interface
	if validator, ok := v.(interface{ Validate() error }); ok {
		return validator.Validate()
	}
	// Otherwise, use the struct validator
	return validate.Struct(v)
}

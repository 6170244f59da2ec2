package types

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of an event payload or request body.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ValidateIdentity checks that an identity key looks like an email address.
func ValidateIdentity(email string) error {
	if err := validate.Var(email, "required,email,max=320"); err != nil {
		return ErrInvalidIdentity
	}
	return nil
}

// DecodeInto unmarshals the frame data into v.
func (e *Envelope) DecodeInto(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

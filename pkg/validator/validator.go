package validator

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates tagged structs.
type Validator interface {
	Validate(interface{}) error
	ValidateEmail(email string) error
}

type appValidator struct {
	v *validator.Validate
}

func New() Validator {
	return &appValidator{v: validator.New()}
}

func (a *appValidator) Validate(obj interface{}) error {
	if err := a.v.Struct(obj); err != nil {
		var errs validator.ValidationErrors
		if ok := errors.As(err, &errs); ok && len(errs) > 0 {
			fe := errs[0]
			return fmt.Errorf("field %s failed validation on %q", fe.Field(), fe.Tag())
		}
		return err
	}
	return nil
}

func (a *appValidator) ValidateEmail(email string) error {
	if err := a.v.Var(email, "required,email"); err != nil {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

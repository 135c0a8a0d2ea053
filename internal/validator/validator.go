package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var disposableEmailDomains = []string{
	"10minutemail.com", "guerrillamail.com", "mailinator.com", "tempmail.org",
	"yopmail.com", "maildrop.cc", "temp-mail.org", "throwaway.email",
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()

	// Custom validators
	v.RegisterValidation("no_disposable_email", validateNoDisposableEmail)

	return &Validator{validate: v}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// Message flattens a validation error into a single human-readable line.
func Message(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			parts = append(parts, fmt.Sprintf("%s must be a valid email address", fe.Field()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "min":
			parts = append(parts, fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "no_disposable_email":
			parts = append(parts, fmt.Sprintf("%s uses a disposable email domain", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}

func validateNoDisposableEmail(fl validator.FieldLevel) bool {
	email := fl.Field().String()
	emailParts := strings.Split(email, "@")
	if len(emailParts) != 2 {
		return false
	}

	domain := strings.ToLower(emailParts[1])
	for _, disposableDomain := range disposableEmailDomains {
		if domain == disposableDomain {
			return false
		}
	}

	return true
}

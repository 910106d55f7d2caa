package domain

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength matches what the identity provider accepts.
const MinPasswordLength = 6

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their json name so ValidationError.Field is stable
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type companionInput struct {
	Name     string `json:"name" validate:"required,max=20"`
	AvatarID string `json:"avatar" validate:"required"`
}

type registrationInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Confirm  string `json:"confirm" validate:"eqfield=Password"`
}

type signInInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ValidateCompanion checks an already trimmed name and an avatar id.
func ValidateCompanion(name, avatarID string) error {
	return toValidationError(validate.Struct(companionInput{Name: name, AvatarID: avatarID}))
}

// ValidateRegistration checks the sign-up form, including the password confirmation.
func ValidateRegistration(email, password, confirm string) error {
	return toValidationError(validate.Struct(registrationInput{
		Email:    strings.TrimSpace(email),
		Password: password,
		Confirm:  confirm,
	}))
}

// ValidateSignIn only requires both fields to be present.
func ValidateSignIn(creds Credentials) error {
	return toValidationError(validate.Struct(signInInput{
		Email:    strings.TrimSpace(creds.Email),
		Password: strings.TrimSpace(creds.Password),
	}))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Field: fe.Field(), Reason: fe.Tag()}
	}
	return &ValidationError{Field: "input", Reason: err.Error()}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound               = errors.New("companion record not found")
	ErrNoCompanion                  = errors.New("no companion created yet")
	ErrCompanionExists              = errors.New("companion already exists")
	ErrMutationInFlight             = errors.New("another change to the same data is still being saved")
	ErrNotAuthenticated             = errors.New("not authenticated")
	ErrNotificationPermissionDenied = errors.New("notification permission denied")
)

// ValidationError is raised before anything reaches the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Action categorizes a mutating operation for user-facing failure messages.
type Action string

const (
	ActionCreation               Action = "creation"
	ActionInteraction            Action = "interaction"
	ActionNotificationPreference Action = "notification-preference"
	ActionReset                  Action = "reset"
)

// PersistenceFailure means the gateway rejected a write and the local change was rolled back.
type PersistenceFailure struct {
	Action Action
	Err    error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("%s not saved: %v", e.Action, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

// Message is the text shown to the user.
func (e *PersistenceFailure) Message() string {
	switch e.Action {
	case ActionCreation:
		return "Your friend could not be created."
	case ActionInteraction:
		return "The interaction could not be saved."
	case ActionNotificationPreference:
		return "The notification setting could not be saved."
	case ActionReset:
		return "Resetting your friend failed."
	default:
		return "Something went wrong. Please try again."
	}
}

// AuthCode is the identity provider's structured error code.
type AuthCode string

const (
	AuthEmailAlreadyInUse   AuthCode = "auth/email-already-in-use"
	AuthInvalidEmail        AuthCode = "auth/invalid-email"
	AuthOperationNotAllowed AuthCode = "auth/operation-not-allowed"
	AuthWeakPassword        AuthCode = "auth/weak-password"
	AuthUserDisabled        AuthCode = "auth/user-disabled"
	AuthUserNotFound        AuthCode = "auth/user-not-found"
	AuthWrongPassword       AuthCode = "auth/wrong-password"
	AuthInvalidCredential   AuthCode = "auth/invalid-credential"
	AuthTooManyRequests     AuthCode = "auth/too-many-requests"
	AuthUnknown             AuthCode = "auth/unknown"
)

var authMessages = map[AuthCode]string{
	AuthEmailAlreadyInUse:   "This email address is already in use.",
	AuthInvalidEmail:        "Invalid email address.",
	AuthOperationNotAllowed: "This operation is not available right now.",
	AuthWeakPassword:        "Password is too weak. Use at least 6 characters.",
	AuthUserDisabled:        "This account has been disabled.",
	AuthUserNotFound:        "No user is registered with this email address.",
	AuthWrongPassword:       "Wrong password.",
	AuthInvalidCredential:   "The sign-in details are invalid.",
	AuthTooManyRequests:     "Too many failed attempts. Please try again later.",
}

const genericAuthMessage = "Something went wrong. Please try again."

// AuthMessage maps a provider code to its user-facing message.
func AuthMessage(code AuthCode) string {
	if msg, ok := authMessages[code]; ok {
		return msg
	}
	return genericAuthMessage
}

type AuthFailure struct {
	Code AuthCode
	Err  error
}

func (e *AuthFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *AuthFailure) Unwrap() error { return e.Err }

func (e *AuthFailure) Message() string { return AuthMessage(e.Code) }

// UserMessage picks the user-facing text for any error the core returns.
func UserMessage(err error) string {
	var (
		vErr *ValidationError
		pErr *PersistenceFailure
		aErr *AuthFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return validationMessage(vErr)
	case errors.As(err, &pErr):
		return pErr.Message()
	case errors.As(err, &aErr):
		return aErr.Message()
	case errors.Is(err, ErrNotificationPermissionDenied):
		return "Allow notifications in your device settings to turn reminders on."
	case errors.Is(err, ErrMutationInFlight):
		return "Hold on, your last change is still being saved."
	case errors.Is(err, ErrNoCompanion):
		return "Create your friend first."
	case errors.Is(err, ErrCompanionExists):
		return "You already have a friend."
	case errors.Is(err, ErrNotAuthenticated):
		return "Please sign in first."
	default:
		return genericAuthMessage
	}
}

func validationMessage(e *ValidationError) string {
	switch e.Field {
	case "name":
		return "Give your friend a name (up to 20 characters)."
	case "avatar":
		return "Pick an avatar for your friend."
	case "email", "password":
		if e.Reason == "required" {
			return "Fill in all fields."
		}
		if e.Field == "password" {
			return "Password must be at least 6 characters."
		}
		return "Invalid email address."
	case "confirm":
		return "Passwords do not match."
	default:
		return e.Error()
	}
}

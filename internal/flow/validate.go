package flow

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// RegistrationForm is the registration page state.
type RegistrationForm struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
	Role            string
}

// ValidateRegistration checks every rule and returns one message per failing
// field. An empty map means the form may be submitted.
func ValidateRegistration(f RegistrationForm) map[string]string {
	errs := make(map[string]string)

	if strings.TrimSpace(f.FirstName) == "" {
		errs[FieldFirstName] = "First name is required"
	}
	if strings.TrimSpace(f.LastName) == "" {
		errs[FieldLastName] = "Last name is required"
	}
	if strings.TrimSpace(f.Email) == "" {
		errs[FieldEmail] = "Email is required"
	} else if !emailPattern.MatchString(f.Email) {
		errs[FieldEmail] = "Invalid email format"
	}
	if f.Password == "" {
		errs[FieldPassword] = "Password is required"
	} else if utf8.RuneCountInString(f.Password) < minPasswordLength {
		errs[FieldPassword] = "Password must be at least 8 characters"
	}
	if f.Password != f.ConfirmPassword {
		errs[FieldConfirmPassword] = "Passwords do not match"
	}
	return errs
}

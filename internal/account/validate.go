// validate.go -- field rules shared by signup, profile edit, and password reset.
package account

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLen     = 50
	maxEmailLen    = 255
	minPasswordLen = 8
	// maxPasswordLen bounds hashing work per request.
	maxPasswordLen = 128
)

var emailPattern = regexp.MustCompile(`(?i)^[\w+\-.]+@[a-z\d\-]+(\.[a-z\d\-]+)*\.[a-z]+$`)

// FieldError is one failed rule on one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every failed rule for a form, in check order.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether field failed at least one rule.
func (e *ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) empty() bool { return len(e.Errors) == 0 }

func emailTaken() *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: "email", Message: "Email has already been taken"}}}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateName(e *ValidationError, name string) {
	switch {
	case name == "":
		e.add("name", "Name can't be blank")
	case utf8.RuneCountInString(name) > maxNameLen:
		e.add("name", "Name is too long (maximum is 50 characters)")
	}
}

func validateEmail(e *ValidationError, email string) {
	switch {
	case email == "":
		e.add("email", "Email can't be blank")
	case utf8.RuneCountInString(email) > maxEmailLen:
		e.add("email", "Email is too long (maximum is 255 characters)")
	case !emailPattern.MatchString(email):
		e.add("email", "Email is invalid")
	}
}

// validatePassword applies the length rules and the confirmation match.
func validatePassword(e *ValidationError, password, confirmation string) {
	switch {
	case strings.TrimSpace(password) == "":
		e.add("password", "Password can't be blank")
	case utf8.RuneCountInString(password) < minPasswordLen:
		e.add("password", "Password is too short (minimum is 8 characters)")
	case len(password) > maxPasswordLen:
		e.add("password", "Password is too long (maximum is 128 characters)")
	}
	if password != confirmation {
		e.add("password_confirmation", "Password confirmation doesn't match Password")
	}
}

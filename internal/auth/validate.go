package auth

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ayush/recipe-assistant/backend/internal/models"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// validateRegistration trims the username in place and checks both fields.
func validateRegistration(req *models.RegisterRequest) error {
	req.Username = strings.TrimSpace(req.Username)

	n := utf8.RuneCountInString(req.Username)
	if n < 3 || n > 50 {
		return errors.New("username must be between 3 and 50 characters")
	}
	if !usernamePattern.MatchString(req.Username) {
		return errors.New("username may only contain letters, digits and underscores")
	}

	if strings.TrimSpace(req.Password) == "" {
		return errors.New("password must not be blank")
	}
	n = utf8.RuneCountInString(req.Password)
	if n < 8 || n > 128 {
		return errors.New("password must be between 8 and 128 characters")
	}
	return nil
}

// validateLogin checks field lengths only. The username is matched exactly,
// so surrounding whitespace is not stripped.
func validateLogin(req *models.LoginRequest) error {
	n := utf8.RuneCountInString(req.Username)
	if n < 1 || n > 50 {
		return errors.New("username must be between 1 and 50 characters")
	}
	n = utf8.RuneCountInString(req.Password)
	if n < 1 || n > 128 {
		return errors.New("password must be between 1 and 128 characters")
	}
	return nil
}

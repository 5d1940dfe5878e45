package feedback

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRe = regexp.MustCompile(`^[0-9]{10}$`)
	nameRe  = regexp.MustCompile(`^[A-Za-z ]+$`)
)

const (
	nameMinLen    = 2
	nameMaxLen    = 50
	commentMinLen = 10
	commentMaxLen = 500
)

// validateIdentity checks the fields shared by both operations. Returns ""
// when valid, otherwise a caller-safe message.
func validateIdentity(email, phone string) string {
	if email == "" || !emailRe.MatchString(email) {
		return "invalid email address"
	}
	if !phoneRe.MatchString(phone) {
		return "phone must be exactly 10 digits"
	}
	return ""
}

func validateSubmission(name string, rating int, comment, email, phone string) string {
	if msg := validateIdentity(email, phone); msg != "" {
		return msg
	}
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < nameMinLen || n > nameMaxLen {
		return "name must be 2-50 characters"
	}
	if !nameRe.MatchString(name) {
		return "name may contain only letters and spaces"
	}
	if rating < 1 || rating > 5 {
		return "rating must be between 1 and 5"
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(comment)); n < commentMinLen || n > commentMaxLen {
		return "comment must be 10-500 characters"
	}
	return ""
}

package auth

import (
	"net/url"
	"regexp"
	"unicode"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks if an email is valid.
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email) && len(email) < 255
}

// ValidatePassword checks if a password is strong enough. It must be 8-72
// characters and contain at least 3 of the 4 character classes.
func ValidatePassword(password string) bool {
	if len(password) < 8 || len(password) > 72 {
		return false
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if ok {
			classes++
		}
	}
	return classes >= 3
}

// ValidateURI checks that raw is an absolute http(s) URL.
func ValidateURI(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

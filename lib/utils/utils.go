package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^(?i)[a-z0-9._%+\-]+@(?:[a-z0-9\-]+\.)+[a-z]{2,}$`)

// ValidateEmail takes an email string as input and returns a boolean indicating whether the input is a valid email address.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizeEmail trims surrounding whitespace and lowercases the address,
// which is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FormatError wraps message in the banner the CLI prints errors with.
func FormatError(message string) string {
	message = "ERROR: " + message
	bannerChar := "="
	bannerLine := strings.Repeat(bannerChar, len(message)+4)
	return fmt.Sprintf("%s\n%s %s %s\n%s\n", bannerLine, bannerChar, message, bannerChar, bannerLine)
}

// PrintError prints message to stdout inside an error banner.
func PrintError(message string) {
	fmt.Print(FormatError(message))
}

package flow

import (
	"errors"
	"strings"
	"unicode"
)

// MFACodeLength is the number of digits an authenticator app shows.
const MFACodeLength = 6

// ErrEmptyMFACode is returned when the entry holds no digits.
var ErrEmptyMFACode = errors.New("mfa code has no digits")

// NormalizeMFACode keeps the first six digits of input and left-pads them
// with zeros, so "42" becomes "000042".
func NormalizeMFACode(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if b.Len() == MFACodeLength {
			break
		}
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyMFACode
	}
	return strings.Repeat("0", MFACodeLength-b.Len()) + b.String(), nil
}

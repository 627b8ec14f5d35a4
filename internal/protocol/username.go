package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxUsernameLength is the longest accepted username in bytes
const MaxUsernameLength = 32

var (
	ErrUsernameEmpty   = errors.New("username is empty")
	ErrUsernameTooLong = fmt.Errorf("username longer than %d bytes", MaxUsernameLength)
	ErrUsernameInvalid = errors.New("username must be valid UTF-8 without commas or control characters")
)

// ValidateUsername checks a JOIN payload. Commas and control characters
// are refused since they would corrupt the USER_LIST payload.
func ValidateUsername(name string) error {
	if name == "" {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !utf8.ValidString(name) || strings.ContainsRune(name, ',') {
		return ErrUsernameInvalid
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return ErrUsernameInvalid
		}
	}
	return nil
}

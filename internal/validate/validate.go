// Package validate sanitizes user-supplied names, room codes and chat text,
// and generates room codes.
package validate

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// CodeAlphabet excludes visually ambiguous characters (0/O, 1/I).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// CodeLength is the fixed room code length.
	CodeLength = 6

	maxNameRunes = 32
	maxChatRunes = 500
)

var (
	ErrEmpty       = errors.New("value is empty")
	ErrTooLong     = errors.New("value is too long")
	ErrBadCode     = errors.New("room code must be 6 unambiguous characters")
	ErrControlChar = errors.New("value contains control characters")
)

// PlayerName trims, collapses internal whitespace and enforces the 32 code
// point limit. Control characters other than whitespace are rejected, not
// stripped; chat text is the lenient surface, names are not.
func PlayerName(s string) (string, error) {
	sanitized := collapseWhitespace(s)
	if sanitized == "" {
		return "", ErrEmpty
	}
	for _, r := range sanitized {
		if unicode.IsControl(r) {
			return "", ErrControlChar
		}
	}
	if utf8.RuneCountInString(sanitized) > maxNameRunes {
		runes := []rune(sanitized)
		sanitized = strings.TrimSpace(string(runes[:maxNameRunes]))
		if sanitized == "" {
			return "", ErrEmpty
		}
	}
	return sanitized, nil
}

// RoomCode normalizes to uppercase and checks length and alphabet.
func RoomCode(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != CodeLength {
		return "", ErrBadCode
	}
	for _, r := range code {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return "", ErrBadCode
		}
	}
	return code, nil
}

// ChatMessage trims, strips control characters and enforces the 500 rune cap.
func ChatMessage(s string) (string, error) {
	sanitized := strings.TrimSpace(stripControl(s))
	if sanitized == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(sanitized) > maxChatRunes {
		return "", ErrTooLong
	}
	return sanitized, nil
}

// GenerateRoomCode returns a 6 character code from the unambiguous alphabet
// using a cryptographic RNG.
func GenerateRoomCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; nothing sensible to do but crash loudly.
			panic(err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String()
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package app

import (
	"crypto/rand"
	"strings"
)

const (
	// CodeAlphabet leaves out 0/O and 1/I so codes survive being read aloud.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of characters in a session code.
	CodeLength = 6
	// MaxCodeAttempts bounds the collision-retry loop of registries.
	MaxCodeAttempts = 10
)

// CodeGenerator draws a candidate session code.
type CodeGenerator func() (string, error)

// RandomCode draws a code from CodeAlphabet using crypto/rand.
func RandomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, CodeLength)
	for i := range out {
		out[i] = CodeAlphabet[int(buf[i])%len(CodeAlphabet)]
	}
	return string(out), nil
}

// NormalizeCode makes lookups case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

package proof

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// CodeTag prefixes every verification code.
const CodeTag = "TP-"

// codeAlphabet drops visually ambiguous characters (0/O, 1/I). 32 symbols,
// so a random byte mod 32 is unbiased.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const codeRandomLen = 4

// NewCode returns a candidate verification code, e.g. "TP-7KQ4". Global
// uniqueness is the store's job; callers retry on conflict.
func NewCode() (string, error) {
	buf := make([]byte, codeRandomLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	var b strings.Builder
	b.WriteString(CodeTag)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeCode canonicalizes a caller-supplied code for matching. Lookup is
// case-insensitive on the code alphabet; the stored form is upper case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

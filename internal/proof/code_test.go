package proof

import (
	"strings"
	"testing"
)

func TestNewCodeFormat(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := NewCode()
		if err != nil {
			t.Fatalf("NewCode() error = %v", err)
		}
		if !strings.HasPrefix(code, CodeTag) {
			t.Fatalf("NewCode() = %q, want %q prefix", code, CodeTag)
		}
		suffix := strings.TrimPrefix(code, CodeTag)
		if len(suffix) != codeRandomLen {
			t.Fatalf("NewCode() = %q, want %d random characters", code, codeRandomLen)
		}
		for _, c := range suffix {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("NewCode() = %q contains %q outside alphabet", code, c)
			}
		}
		if strings.ContainsAny(suffix, "0O1I") {
			t.Fatalf("NewCode() = %q contains an ambiguous character", code)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		"tp-7kq4":    "TP-7KQ4",
		"  TP-AB2C ": "TP-AB2C",
		"Tp-xyz9":    "TP-XYZ9",
	}
	for in, want := range cases {
		if got := NormalizeCode(in); got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
}

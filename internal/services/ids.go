package services

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

func shortID(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}

func newID() string { return uuid.NewString() }

const resumeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// resumeCode returns a short human-typable code for session resumption.
func resumeCode(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(resumeAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			b[i] = resumeAlphabet[0]
			continue
		}
		b[i] = resumeAlphabet[idx.Int64()]
	}
	return string(b)
}

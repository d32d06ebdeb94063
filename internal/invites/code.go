package invites

import (
	"context"
	"crypto/rand"
	"fmt"

	"ms-grouping/internal/models"
)

// Alphabet for invite codes. Drops 0/O and 1/I so codes survive being read
// aloud or scribbled down.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed invite code size.
const CodeLength = 8

// DefaultMaxAttempts bounds collision retries during generation.
const DefaultMaxAttempts = 5

// NewCode returns one random invite code.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf), nil
}

// TakenFunc reports whether a candidate code is already in use.
type TakenFunc func(ctx context.Context, code string) (bool, error)

// Generate produces a collision-free invite code, regenerating on collision
// up to maxAttempts times before giving up with a CodeGenerationError.
func Generate(ctx context.Context, maxAttempts int, taken TakenFunc) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := NewCode()
		if err != nil {
			return "", err
		}
		exists, err := taken(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}

	return "", &models.CodeGenerationError{Attempts: maxAttempts}
}

package invites

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ms-grouping/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode_Shape(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		assert.Len(t, code, CodeLength)

		for _, r := range code {
			assert.Contains(t, codeAlphabet, string(r))
		}
		// The lookalike characters never appear.
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
	}
}

func TestNewCode_Varies(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		seen[code] = true
	}
	// 32^8 possibilities; 50 draws colliding would mean a broken generator.
	assert.Greater(t, len(seen), 45)
}

func TestGenerate_SkipsCollisions(t *testing.T) {
	collisions := 3
	checked := 0

	code, err := Generate(context.Background(), 5, func(ctx context.Context, c string) (bool, error) {
		checked++
		return checked <= collisions, nil
	})

	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	assert.Equal(t, collisions+1, checked)
}

func TestGenerate_GivesUpAfterMaxAttempts(t *testing.T) {
	_, err := Generate(context.Background(), 4, func(ctx context.Context, c string) (bool, error) {
		return true, nil // everything collides
	})

	var genErr *models.CodeGenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 4, genErr.Attempts)
}

func TestGenerate_PropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	_, err := Generate(context.Background(), 5, func(ctx context.Context, c string) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestQRGenerator_InviteURL(t *testing.T) {
	q := NewQRGenerator("https://app.example.com/")
	assert.Equal(t, "https://app.example.com/join/ABCD2345", q.InviteURL("ABCD2345"))
}

func TestQRGenerator_ProducesPNG(t *testing.T) {
	q := NewQRGenerator("https://app.example.com")

	png, err := q.GenerateInviteQR("ABCD2345")
	require.NoError(t, err)
	require.NotEmpty(t, png)

	// PNG magic header.
	assert.True(t, strings.HasPrefix(string(png), "\x89PNG"), "expected a PNG payload")
}

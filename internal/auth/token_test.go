package auth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tok, err := NewToken()
		require.NoError(t, err)
		require.Len(t, tok, 43)
		require.NotContains(t, tok, "=")

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		require.Len(t, raw, tokenBytes)

		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}

// SPDX-License-Identifier: MIT

package csrf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildVerifyRoundtrip(t *testing.T) {
	cases := []struct {
		name      string
		secret    string
		nonce     string
		expiresAt int64
	}{
		{"simple", "secret", "abcdef0123456789", 1700000000000},
		{"long secret", strings.Repeat("k", 128), "deadbeef", 1},
		{"zero expiry", "secret", "nonce", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, ok := Build(tc.secret, tc.nonce, tc.expiresAt)
			require.True(t, ok)
			require.True(t, strings.HasPrefix(token, "v1."))

			proof, ok := Verify(tc.secret, token)
			require.True(t, ok)
			assert.Equal(t, tc.nonce, proof.Nonce)
			if tc.expiresAt > 0 {
				assert.Equal(t, tc.expiresAt, proof.ExpiresAt)
			}
		})
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	token, ok := Build("secret", "abcdef0123456789", 1700000000000)
	require.True(t, ok)

	// Flipping any byte must invalidate the token.
	for i := 0; i < len(token); i++ {
		mutated := []byte(token)
		mutated[i] ^= 0x01
		if string(mutated) == token {
			continue
		}
		_, stillValid := Verify("secret", string(mutated))
		assert.False(t, stillValid, "byte %d", i)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, ok := Build("secret-a", "nonce", 1700000000000)
	require.True(t, ok)
	_, valid := Verify("secret-b", token)
	assert.False(t, valid)
}

func TestBuildRequiresSecretAndNonce(t *testing.T) {
	_, ok := Build("", "nonce", 1)
	assert.False(t, ok)
	_, ok = Build("secret", "", 1)
	assert.False(t, ok)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"v2.1.nonce.aabb",
		"v1.zz",
		"v1..nonce.aabb",
		"v1.1..aabb",
		"v1.1.nonce.not-hex",
	} {
		_, ok := Verify("secret", token)
		assert.False(t, ok, token)
	}
}

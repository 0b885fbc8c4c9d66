// SPDX-License-Identifier: MIT

// Package csrf implements the stateless CSRF proof codec: an HMAC-SHA256
// token binding a nonce to an expiry under a shared secret.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const proofVersion = "v1"

// Proof is the verified content of a CSRF proof token.
type Proof struct {
	Nonce     string
	ExpiresAt int64 // unix milliseconds
}

// Build produces "v1.<expiry_hex>.<nonce>.<hmac_hex>" where the signature is
// HMAC-SHA256(secret, nonce + ":" + expiry_hex). Empty secret or nonce yields
// no token.
func Build(secret, nonce string, expiresAt int64) (string, bool) {
	if secret == "" || nonce == "" {
		return "", false
	}
	expirySegment := "0"
	if expiresAt > 0 {
		expirySegment = strconv.FormatInt(expiresAt, 16)
	}
	signature := sign(secret, nonce, expirySegment)
	return proofVersion + "." + expirySegment + "." + nonce + "." + signature, true
}

// Verify parses and checks a proof token in constant time. The second return
// is false for any malformed, mis-signed or mis-versioned token.
func Verify(secret, token string) (Proof, bool) {
	if secret == "" || token == "" {
		return Proof{}, false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != proofVersion {
		return Proof{}, false
	}
	expirySegment, nonce, signature := parts[1], parts[2], parts[3]
	if nonce == "" {
		return Proof{}, false
	}

	expiresAt, err := strconv.ParseInt(expirySegment, 16, 64)
	if err != nil {
		return Proof{}, false
	}

	expected, err := hex.DecodeString(sign(secret, nonce, expirySegment))
	if err != nil {
		return Proof{}, false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) != len(expected) {
		return Proof{}, false
	}
	if !hmac.Equal(expected, provided) {
		return Proof{}, false
	}

	return Proof{Nonce: nonce, ExpiresAt: expiresAt}, true
}

func sign(secret, nonce, expirySegment string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce + ":" + expirySegment))
	return hex.EncodeToString(mac.Sum(nil))
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the only PKCE method accepted (RFC 7636 §4.2).
const PKCEChallengeMethodS256 = "S256"

const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// GeneratePKCEVerifier returns a 43 character code_verifier built from 32
// random bytes. It panics if the system random source fails.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes BASE64URL(SHA256(verifier)).
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE reports whether verifier hashes to challenge. The comparison is
// constant time and malformed verifiers never match.
func VerifyPKCE(verifier, challenge string) bool {
	if !ValidVerifier(verifier) || challenge == "" {
		return false
	}
	computed := ComputePKCEChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidVerifier checks length and the unreserved character set of RFC 7636 §4.1.
func ValidVerifier(verifier string) bool {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return false
	}
	for _, c := range verifier {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

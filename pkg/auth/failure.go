// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
)

// Reason classifies why a bearer token was rejected.
type Reason string

// Verification failure reasons.
const (
	ReasonMalformed            Reason = "malformed"
	ReasonUnknownKey           Reason = "unknown_key"
	ReasonBadSignature         Reason = "bad_signature"
	ReasonClaimInvalid         Reason = "claim_invalid"
	ReasonKeySourceUnavailable Reason = "key_source_unavailable"
)

// Claims checked by the verifier, reported in VerificationFailure.Claim.
const (
	ClaimExp = "exp"
	ClaimIss = "iss"
	ClaimAud = "aud"
	ClaimSub = "sub"
)

// VerificationFailure is the error returned for every rejected token.
// It never carries the token or key material.
type VerificationFailure struct {
	Reason Reason
	// Claim names the offending claim when Reason is ReasonClaimInvalid.
	Claim string

	cause error
}

func newFailure(reason Reason, cause error) *VerificationFailure {
	return &VerificationFailure{Reason: reason, cause: cause}
}

func claimFailure(claim string) *VerificationFailure {
	return &VerificationFailure{Reason: ReasonClaimInvalid, Claim: claim}
}

// String renders the reason, e.g. "claim_invalid:aud".
func (f *VerificationFailure) String() string {
	if f.Reason == ReasonClaimInvalid && f.Claim != "" {
		return string(f.Reason) + ":" + f.Claim
	}
	return string(f.Reason)
}

// Error implements error.
func (f *VerificationFailure) Error() string {
	return "token verification failed: " + f.String()
}

// Unwrap returns the underlying cause, if any.
func (f *VerificationFailure) Unwrap() error {
	return f.cause
}

// FailureReason extracts the VerificationFailure string form from err, or ""
// when err is not a verification failure.
func FailureReason(err error) string {
	var f *VerificationFailure
	if errors.As(err, &f) {
		return f.String()
	}
	return ""
}

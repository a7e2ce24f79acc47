package businessflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Identity is the resolved, privacy-preserving pair a submission is keyed on.
// Key deduplicates submissions from the same identity token and stays stable
// when the client changes network; OriginFingerprint is the independent guard
// that stops one origin from registering many identities.
type Identity struct {
	Key               string
	OriginFingerprint string
	// MintedToken is set when the caller supplied no usable token and a fresh
	// one was generated; the caller must persist it client-side.
	MintedToken string
}

// IdentityResolver derives stable submission keys from a client-held token and
// the request's network origin. Both derivations are keyed HMAC-SHA256 with a
// versioned secret salt, so raw origins are never stored, logged or comparable
// across salt rotations.
type IdentityResolver struct {
	salt        []byte
	saltVersion string
}

// NewIdentityResolver creates a resolver bound to one salt version
func NewIdentityResolver(salt, saltVersion string) *IdentityResolver {
	return &IdentityResolver{
		salt:        []byte(salt),
		saltVersion: saltVersion,
	}
}

// Resolve returns the identity for the given token and network origin. A
// missing or malformed token (anything that does not parse as a UUID) is
// replaced with a freshly minted one, reported through MintedToken. The same
// (token, origin) input always yields the same output.
func (r *IdentityResolver) Resolve(clientToken, networkOrigin string) Identity {
	minted := ""
	if _, err := uuid.Parse(clientToken); err != nil {
		clientToken = uuid.New().String()
		minted = clientToken
	}

	return Identity{
		Key:               r.keyedDigest(clientToken),
		OriginFingerprint: r.saltVersion + ":" + r.keyedDigest(networkOrigin),
		MintedToken:       minted,
	}
}

// FingerprintOrigin derives only the origin fingerprint, for callers that
// never see a client token (admission accounting, abuse lookups).
func (r *IdentityResolver) FingerprintOrigin(networkOrigin string) string {
	return r.saltVersion + ":" + r.keyedDigest(networkOrigin)
}

func (r *IdentityResolver) keyedDigest(value string) string {
	mac := hmac.New(sha256.New, r.salt)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const (
	// verifierLength is the PKCE code verifier length. RFC 7636 allows
	// 43..128; 43 is the minimum valid length and what Spotify clients
	// conventionally use.
	verifierLength = 43

	// verifierAlphabet is the RFC 3986 unreserved character set, the only
	// characters a code verifier may contain.
	verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// CodeChallenge is a PKCE verifier/challenge pair. The verifier is sent
// only in the final token-exchange request body; the challenge is the only
// value that appears in the authorization URL.
type CodeChallenge struct {
	Verifier  string
	Challenge string
}

// NewCodeChallenge generates a fresh verifier and its S256 challenge.
// A failing CSPRNG is unrecoverable and panics.
func NewCodeChallenge() *CodeChallenge {
	c := &CodeChallenge{}
	c.Refresh()

	return c
}

// Refresh regenerates both fields. Used when an authorization attempt is
// retried with a stale challenge.
func (c *CodeChallenge) Refresh() {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		panic("auth: reading from crypto/rand: " + err.Error())
	}

	for i, b := range buf {
		buf[i] = verifierAlphabet[int(b)%len(verifierAlphabet)]
	}

	c.Verifier = string(buf)
	c.Challenge = challengeFor(c.Verifier)
}

// challengeFor computes base64url-no-pad(SHA256(verifier)).
func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}

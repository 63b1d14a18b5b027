// Package signature authenticates inbound webhook payloads via a keyed digest
// carried in an "<algorithm>=<hex>" header. Verification always runs over the
// untouched raw body bytes: re-serializing a parsed body changes whitespace
// and key order and silently breaks legitimate signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// Algorithm is a supported keyed digest algorithm token.
type Algorithm string

const (
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA1   Algorithm = "sha1"
)

func (a Algorithm) String() string { return string(a) }

func (a Algorithm) hashFunc() func() hash.Hash {
	switch a {
	case AlgorithmSHA256:
		return sha256.New
	case AlgorithmSHA1:
		return sha1.New
	default:
		return nil
	}
}

// ParsedSignature is a successfully parsed signature header.
type ParsedSignature struct {
	Algorithm Algorithm
	Digest    []byte
}

// ParseHeader parses "<algorithm>=<hex-digest>". The algorithm token is
// matched case-insensitively. Returns ok=false for a missing or malformed
// header, unsupported algorithm, or invalid hex.
func ParseHeader(header string) (ParsedSignature, bool) {
	header = strings.TrimSpace(header)
	idx := strings.IndexByte(header, '=')
	if idx <= 0 {
		return ParsedSignature{}, false
	}

	alg := Algorithm(strings.ToLower(header[:idx]))
	if alg.hashFunc() == nil {
		return ParsedSignature{}, false
	}

	digest, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(header[idx+1:])))
	if err != nil || len(digest) == 0 {
		return ParsedSignature{}, false
	}

	return ParsedSignature{Algorithm: alg, Digest: digest}, true
}

// ComputeHex returns the hex keyed digest of raw under secret and alg.
func ComputeHex(raw []byte, secret string, alg Algorithm) string {
	return hex.EncodeToString(compute(raw, secret, alg))
}

func compute(raw []byte, secret string, alg Algorithm) []byte {
	newHash := alg.hashFunc()
	if newHash == nil {
		return nil
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(raw)
	return mac.Sum(nil)
}

// Verify checks the signature header against the exact raw request bytes.
// It fails closed: any missing header, malformed hex, unsupported algorithm,
// or digest length mismatch yields false. The comparison is constant-time
// in the digest length regardless of where the digests diverge.
func Verify(raw []byte, secret, header string) bool {
	parsed, ok := ParseHeader(header)
	if !ok {
		return false
	}

	expected := compute(raw, secret, parsed.Algorithm)
	if len(expected) != len(parsed.Digest) {
		return false
	}

	return hmac.Equal(expected, parsed.Digest)
}

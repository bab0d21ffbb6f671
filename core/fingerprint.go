package core

import (
	"crypto/sha256"
	"encoding/hex"
)

const unknownPart = "unknown"

// Fingerprint identifies a requesting client without keeping its raw headers
type Fingerprint string

// NewFingerprint hashes ip|user-agent|origin, substituting "unknown" for empty parts
func NewFingerprint(ip, userAgent, origin string) Fingerprint {
	sum := sha256.Sum256([]byte(orUnknown(ip) + "|" + orUnknown(userAgent) + "|" + orUnknown(origin)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func (f Fingerprint) String() string {
	return string(f)
}

func orUnknown(s string) string {
	if s == "" {
		return unknownPart
	}
	return s
}

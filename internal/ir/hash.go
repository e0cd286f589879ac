package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// DomainPlan is the hash domain for plan documents.
// The version suffix enables future algorithm migration.
const DomainPlan = "stepwise/plan/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeDocument returns the form of a plan document that is hashed:
// NFC-normalized, with CRLF and lone CR line endings folded to LF.
//
// Two documents that differ only in Unicode composition or line endings
// describe the same structure and must not register as drift.
func NormalizeDocument(source []byte) []byte {
	out := bytes.ReplaceAll(source, []byte("\r\n"), []byte("\n"))
	out = bytes.ReplaceAll(out, []byte("\r"), []byte("\n"))
	return norm.NFC.Bytes(out)
}

// PlanHash computes the content hash of a plan document's source text.
// It is captured at init and recomputed by the drift guard.
func PlanHash(source []byte) string {
	return hashWithDomain(DomainPlan, NormalizeDocument(source))
}

// ShortHash abbreviates a hash for human-facing messages.
func ShortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

// Package authenticity implements the hash protocol that ties a physical
// product to the immutable record created at manufacture time, plus the
// fail-closed verifier that compares presented payloads against the ledger.
package authenticity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
)

// DefaultActionHashWindow bounds how long a regulatory action hash stays
// valid. Stale or future-dated hashes are rejected.
const DefaultActionHashWindow = 10 * time.Minute

// canonicalDigest hashes a set of key=value pairs independent of the order
// the caller supplies them in.
func canonicalDigest(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ComputeDataHash produces the batch identity hash. The authoritative value
// is generated once by the ledger at creation; the core computes it only to
// compare, never to (re)assign.
func ComputeDataHash(batchCode, drugName string, quantity int64, mfgDateUnix, expDateUnix int64, manufacturer string) string {
	fields := map[string]string{
		"batchCode": batchCode,
		"drugName":  drugName,
		"quantity":  fmt.Sprintf("%d", quantity),
		"mfgDate":   fmt.Sprintf("%d", mfgDateUnix),
		"expDate":   fmt.Sprintf("%d", expDateUnix),
	}
	if manufacturer != "" {
		fields["manufacturer"] = manufacturer
	}
	return canonicalDigest(fields)
}

// EncodeVerificationPayload renders the stable payload embedded in scannable
// codes. Dates are unix seconds on the wire.
func EncodeVerificationPayload(batch domain.Batch) domain.VerificationPayload {
	return domain.VerificationPayload{
		BatchCode:    batch.BatchCode,
		DrugName:     batch.DrugName,
		Quantity:     batch.Quantity,
		MfgDate:      batch.ManufactureDate.Unix(),
		ExpDate:      batch.ExpiryDate.Unix(),
		Manufacturer: batch.Manufacturer,
		DataHash:     batch.DataHash,
	}
}

// GenerateActionHash produces a provenance hash for a regulatory action
// (approve, reject, recall) using the same canonical encoder as the data
// hash.
func GenerateActionHash(batchID string, timestamp time.Time, actionKind string) string {
	return canonicalDigest(map[string]string{
		"batchId":   batchID,
		"timestamp": fmt.Sprintf("%d", timestamp.Unix()),
		"action":    actionKind,
	})
}

// ValidateActionHash recomputes and compares an action hash, and enforces a
// bounded validity window: hashes older than window or dated in the future
// are rejected even when the digest matches.
func ValidateActionHash(hash, batchID string, timestamp time.Time, actionKind string, now time.Time, window time.Duration) error {
	if window <= 0 {
		window = DefaultActionHashWindow
	}
	if timestamp.After(now) {
		return fmt.Errorf("action hash timestamp %s is in the future", timestamp.UTC().Format(time.RFC3339))
	}
	if now.Sub(timestamp) > window {
		return fmt.Errorf("action hash expired: issued %s, window %s", timestamp.UTC().Format(time.RFC3339), window)
	}
	expected := GenerateActionHash(batchID, timestamp, actionKind)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(hash)) != 1 {
		return fmt.Errorf("action hash does not match batch %s action %s", batchID, actionKind)
	}
	return nil
}

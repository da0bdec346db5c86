package domain

import "time"

// VerificationStatus is the outcome of checking a presented payload against
// the ledger's authoritative hash.
type VerificationStatus string

const (
	VerificationAuthentic    VerificationStatus = "AUTHENTIC"
	VerificationHashMismatch VerificationStatus = "HASH_MISMATCH"
	VerificationNotFound     VerificationStatus = "NOT_FOUND"
	VerificationExpired      VerificationStatus = "EXPIRED"
	VerificationUnknown      VerificationStatus = "UNKNOWN"
)

// VerificationPayload is the scannable-code payload. The field set and JSON
// names are a stable wire contract; do not rename or reorder semantics.
type VerificationPayload struct {
	BatchCode    string `json:"batchCode"`
	DrugName     string `json:"drugName"`
	Quantity     int64  `json:"quantity"`
	MfgDate      int64  `json:"mfgDate"`
	ExpDate      int64  `json:"expDate"`
	Manufacturer string `json:"manufacturer,omitempty"`
	DataHash     string `json:"dataHash,omitempty"`
}

// VerificationResult pairs the status with context for the caller.
type VerificationResult struct {
	Status    VerificationStatus `json:"status"`
	BatchCode string             `json:"batch_code"`
	Detail    string             `json:"detail,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
}

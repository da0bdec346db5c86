package authenticity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
)

// LedgerClient is the subset of the ledger collaborator the verifier needs.
type LedgerClient interface {
	FetchAuthoritativeHash(ctx context.Context, batchCode string) (string, error)
}

// Verifier compares presented payloads against the ledger's authoritative
// hash. Every ledger failure mode degrades to UNKNOWN; the verifier never
// reports AUTHENTIC without a byte-equal hash from the ledger.
type Verifier struct {
	ledger  LedgerClient
	timeout time.Duration
	now     func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithTimeout bounds the ledger fetch. Defaults to 5s.
func WithTimeout(timeout time.Duration) VerifierOption {
	return func(v *Verifier) {
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

// WithClock injects the clock used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier constructs a Verifier against the given ledger client.
func NewVerifier(ledger LedgerClient, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		ledger:  ledger,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks a scanned payload. Expiry is reported independent of hash
// status: an expired batch is EXPIRED even when its hash would match.
func (v *Verifier) Verify(ctx context.Context, payload domain.VerificationPayload) domain.VerificationResult {
	now := v.now()
	result := domain.VerificationResult{
		BatchCode: payload.BatchCode,
		CheckedAt: now,
	}

	if payload.BatchCode == "" {
		result.Status = domain.VerificationUnknown
		result.Detail = "payload carries no batch code"
		return result
	}

	if payload.ExpDate > 0 && time.Unix(payload.ExpDate, 0).Before(now) {
		result.Status = domain.VerificationExpired
		result.Detail = fmt.Sprintf("batch expired %s", time.Unix(payload.ExpDate, 0).UTC().Format(time.RFC3339))
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	authoritative, err := v.ledger.FetchAuthoritativeHash(fetchCtx, payload.BatchCode)
	if err != nil {
		if errors.Is(err, domain.ErrHashNotFound) {
			result.Status = domain.VerificationNotFound
			result.Detail = "batch code is not recorded on the ledger"
			return result
		}
		// Timeout, transport failure, or anything else: fail closed.
		result.Status = domain.VerificationUnknown
		result.Detail = fmt.Sprintf("ledger unavailable: %v", err)
		return result
	}

	if authoritative == "" {
		result.Status = domain.VerificationNotFound
		result.Detail = "ledger returned an empty hash for this batch code"
		return result
	}

	if subtle.ConstantTimeCompare([]byte(authoritative), []byte(payload.DataHash)) != 1 {
		result.Status = domain.VerificationHashMismatch
		result.Detail = "presented data hash does not match the authoritative record"
		return result
	}

	result.Status = domain.VerificationAuthentic
	return result
}

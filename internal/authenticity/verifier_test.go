package authenticity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
)

type stubLedger struct {
	hash string
	err  error
}

func (s stubLedger) FetchAuthoritativeHash(ctx context.Context, batchCode string) (string, error) {
	return s.hash, s.err
}

type slowLedger struct{}

func (slowLedger) FetchAuthoritativeHash(ctx context.Context, batchCode string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func validPayload(hash string) domain.VerificationPayload {
	return domain.VerificationPayload{
		BatchCode: "BT-001",
		DrugName:  "Amoxicillin",
		Quantity:  500,
		MfgDate:   1700000000,
		ExpDate:   1893456000, // 2030
		DataHash:  hash,
	}
}

func TestVerifyAuthentic(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewVerifier(stubLedger{hash: "abc123"}, WithClock(fixedClock(now)))

	result := v.Verify(context.Background(), validPayload("abc123"))
	if result.Status != domain.VerificationAuthentic {
		t.Fatalf("status = %s, want AUTHENTIC (%s)", result.Status, result.Detail)
	}
}

func TestVerifyHashMismatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewVerifier(stubLedger{hash: "abc123"}, WithClock(fixedClock(now)))

	result := v.Verify(context.Background(), validPayload("tampered"))
	if result.Status != domain.VerificationHashMismatch {
		t.Fatalf("status = %s, want HASH_MISMATCH", result.Status)
	}
}

func TestVerifyNotFound(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewVerifier(stubLedger{err: domain.ErrHashNotFound}, WithClock(fixedClock(now)))

	result := v.Verify(context.Background(), validPayload("abc123"))
	if result.Status != domain.VerificationNotFound {
		t.Fatalf("status = %s, want NOT_FOUND", result.Status)
	}
}

func TestVerifyLedgerFailureIsUnknown(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewVerifier(stubLedger{err: errors.New("connection refused")}, WithClock(fixedClock(now)))

	result := v.Verify(context.Background(), validPayload("abc123"))
	if result.Status != domain.VerificationUnknown {
		t.Fatalf("status = %s, want UNKNOWN on ledger failure", result.Status)
	}
}

func TestVerifyTimeoutIsUnknown(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewVerifier(slowLedger{}, WithClock(fixedClock(now)), WithTimeout(10*time.Millisecond))

	result := v.Verify(context.Background(), validPayload("abc123"))
	if result.Status != domain.VerificationUnknown {
		t.Fatalf("status = %s, want UNKNOWN on timeout", result.Status)
	}
}

func TestVerifyExpiredBeatsMatchingHash(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewVerifier(stubLedger{hash: "abc123"}, WithClock(fixedClock(now)))

	payload := validPayload("abc123")
	payload.ExpDate = now.Add(-24 * time.Hour).Unix()

	result := v.Verify(context.Background(), payload)
	if result.Status != domain.VerificationExpired {
		t.Fatalf("status = %s, want EXPIRED even with a matching hash", result.Status)
	}
}

func TestVerifyEmptyBatchCodeIsUnknown(t *testing.T) {
	v := NewVerifier(stubLedger{hash: "abc123"})

	result := v.Verify(context.Background(), domain.VerificationPayload{})
	if result.Status != domain.VerificationUnknown {
		t.Fatalf("status = %s, want UNKNOWN for missing batch code", result.Status)
	}
}

func TestVerifyEmptyAuthoritativeHashIsNotFound(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewVerifier(stubLedger{hash: ""}, WithClock(fixedClock(now)))

	result := v.Verify(context.Background(), validPayload("abc123"))
	if result.Status != domain.VerificationNotFound {
		t.Fatalf("status = %s, want NOT_FOUND for empty ledger hash", result.Status)
	}
}

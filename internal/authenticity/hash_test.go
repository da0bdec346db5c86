package authenticity

import (
	"strings"
	"testing"
	"time"
)

func TestComputeDataHashDeterministic(t *testing.T) {
	a := ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000000, 1760000000, "Acme Pharma")
	b := ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000000, 1760000000, "Acme Pharma")
	if a != b {
		t.Fatalf("same inputs produced different hashes: %s vs %s", a, b)
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("hash is not lowercase hex sha256: %s", a)
	}
}

func TestComputeDataHashSensitivity(t *testing.T) {
	base := ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000000, 1760000000, "Acme Pharma")

	variants := map[string]string{
		"batch code":   ComputeDataHash("BT-002", "Amoxicillin", 500, 1700000000, 1760000000, "Acme Pharma"),
		"drug name":    ComputeDataHash("BT-001", "Ibuprofen", 500, 1700000000, 1760000000, "Acme Pharma"),
		"quantity":     ComputeDataHash("BT-001", "Amoxicillin", 501, 1700000000, 1760000000, "Acme Pharma"),
		"mfg date":     ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000001, 1760000000, "Acme Pharma"),
		"exp date":     ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000000, 1760000001, "Acme Pharma"),
		"manufacturer": ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000000, 1760000000, "Other Pharma"),
	}
	for field, hash := range variants {
		if hash == base {
			t.Errorf("changing %s did not change the hash", field)
		}
	}
}

func TestComputeDataHashOmitsEmptyManufacturer(t *testing.T) {
	with := ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000000, 1760000000, "Acme Pharma")
	without := ComputeDataHash("BT-001", "Amoxicillin", 500, 1700000000, 1760000000, "")
	if with == without {
		t.Fatalf("manufacturer presence should affect the hash")
	}
}

func TestValidateActionHash(t *testing.T) {
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	hash := GenerateActionHash("batch-1", issued, "recall")

	if err := ValidateActionHash(hash, "batch-1", issued, "recall", issued.Add(5*time.Minute), DefaultActionHashWindow); err != nil {
		t.Fatalf("valid hash rejected: %v", err)
	}

	if err := ValidateActionHash(hash, "batch-1", issued, "recall", issued.Add(11*time.Minute), DefaultActionHashWindow); err == nil {
		t.Fatalf("expected stale hash to be rejected")
	}

	if err := ValidateActionHash(hash, "batch-1", issued, "recall", issued.Add(-time.Minute), DefaultActionHashWindow); err == nil {
		t.Fatalf("expected future-dated hash to be rejected")
	}

	if err := ValidateActionHash(hash, "batch-1", issued, "approve", issued.Add(time.Minute), DefaultActionHashWindow); err == nil {
		t.Fatalf("expected mismatched action to be rejected")
	}

	if err := ValidateActionHash(hash, "batch-2", issued, "recall", issued.Add(time.Minute), DefaultActionHashWindow); err == nil {
		t.Fatalf("expected mismatched batch to be rejected")
	}
}

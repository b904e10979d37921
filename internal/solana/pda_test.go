package solana

import (
	"testing"

	"github.com/mr-tron/base58"
)

const testMint = "So11111111111111111111111111111111111111112"

func TestDeriveBondingCurveAddress_Deterministic(t *testing.T) {
	a, err := DeriveBondingCurveAddress(testMint)
	if err != nil {
		t.Fatalf("DeriveBondingCurveAddress: %v", err)
	}
	b, err := DeriveBondingCurveAddress(testMint)
	if err != nil {
		t.Fatalf("DeriveBondingCurveAddress: %v", err)
	}
	if a != b {
		t.Errorf("derivation not deterministic: %s vs %s", a, b)
	}

	// Result must be a 32-byte off-curve point
	raw, err := base58.Decode(a)
	if err != nil {
		t.Fatalf("decode derived address: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("derived address is %d bytes, want 32", len(raw))
	}
	if isOnCurve(raw) {
		t.Error("derived address must be off-curve")
	}
}

func TestDeriveBondingCurveAddress_BadMint(t *testing.T) {
	if _, err := DeriveBondingCurveAddress("not-base58-0OIl"); err == nil {
		t.Error("expected error for invalid mint")
	}
}

func TestValidateAddress(t *testing.T) {
	if err := ValidateAddress(testMint); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}
	if err := ValidateAddress("abc"); err == nil {
		t.Error("short address accepted")
	}
	if err := ValidateAddress("!!!"); err == nil {
		t.Error("non-base58 address accepted")
	}
}

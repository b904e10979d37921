package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PumpFunProgram is the pump.fun bonding curve program ID.
const PumpFunProgram = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

const bondingCurveSeed = "bonding-curve"

// pdaMarker is appended when hashing program-derived address candidates.
var pdaMarker = []byte("ProgramDerivedAddress")

// DeriveBondingCurveAddress computes the bonding-curve account address for a
// mint under the pump.fun program. Standard PDA derivation: append bump seeds
// 255 down to 0 and take the first sha256 result that is not a valid
// ed25519 curve point.
func DeriveBondingCurveAddress(mint string) (string, error) {
	return DeriveProgramAddress([][]byte{[]byte(bondingCurveSeed)}, mint, PumpFunProgram)
}

// DeriveProgramAddress derives a PDA from seeds, an extra base58 seed and the
// owning program.
func DeriveProgramAddress(seeds [][]byte, base58Seed, program string) (string, error) {
	seedBytes, err := base58.Decode(base58Seed)
	if err != nil {
		return "", fmt.Errorf("decode seed %q: %w", base58Seed, err)
	}
	programBytes, err := base58.Decode(program)
	if err != nil {
		return "", fmt.Errorf("decode program %q: %w", program, err)
	}

	all := append([][]byte{}, seeds...)
	all = append(all, seedBytes)

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, s := range all {
			h.Write(s)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programBytes)
		h.Write(pdaMarker)
		candidate := h.Sum(nil)

		if !isOnCurve(candidate) {
			return base58.Encode(candidate), nil
		}
	}

	return "", fmt.Errorf("no off-curve address found for program %s", program)
}

// isOnCurve reports whether a 32-byte point is a valid ed25519 curve point.
// PDAs must be off-curve so no private key can exist for them.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// ValidateAddress checks that an address is well-formed base58 of 32 bytes.
func ValidateAddress(addr string) error {
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address must be 32 bytes, got %d", len(raw))
	}
	return nil
}

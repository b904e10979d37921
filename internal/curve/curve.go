// Package curve decodes pump.fun bonding-curve account state and derives
// price, market cap and graduation progress from it.
package curve

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Account layout offsets in bytes. Fixed little-endian record:
// discriminator 0-7, virtualTokenReserves 8-15, virtualSolReserves 16-23,
// realTokenReserves 24-31, realSolReserves 32-39, totalSupply 40-47,
// completion flag at 48.
const (
	accountSize = 49

	offVirtualToken = 8
	offVirtualSOL   = 16
	offRealToken    = 24
	offRealSOL      = 32
	offTotalSupply  = 40
	offComplete     = 48
)

const (
	// LamportsPerSOL converts raw lamport amounts to SOL.
	LamportsPerSOL = 1_000_000_000

	// TokenDivisor converts raw token amounts (6 decimals) to human units.
	TokenDivisor = 1_000_000

	// FallbackTotalSupply is assumed when the decoded supply is zero.
	FallbackTotalSupply = 1_000_000_000

	// GraduationThresholdSOL is the real-reserve level at which a token
	// migrates off the bonding curve.
	GraduationThresholdSOL = 85.0
)

// State holds decoded bonding-curve reserves. Transient: recomputed on
// every account-change notification.
type State struct {
	VirtualTokenReserves uint64
	VirtualSOLReserves   uint64
	RealTokenReserves    uint64
	RealSOLReserves      uint64
	TotalSupply          uint64
	Complete             bool
}

// Decode parses a raw bonding-curve account payload.
// Payloads shorter than 49 bytes are rejected.
func Decode(data []byte) (*State, error) {
	if len(data) < accountSize {
		return nil, fmt.Errorf("bonding curve account too short: %d bytes", len(data))
	}
	return &State{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[offVirtualToken:]),
		VirtualSOLReserves:   binary.LittleEndian.Uint64(data[offVirtualSOL:]),
		RealTokenReserves:    binary.LittleEndian.Uint64(data[offRealToken:]),
		RealSOLReserves:      binary.LittleEndian.Uint64(data[offRealSOL:]),
		TotalSupply:          binary.LittleEndian.Uint64(data[offTotalSupply:]),
		Complete:             data[offComplete] == 1,
	}, nil
}

// DecodeBase64 parses a base64-encoded account payload as delivered by
// accountNotification messages and getAccountInfo.
func DecodeBase64(data string) (*State, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return Decode(raw)
}

// Price returns the spot price in SOL per token from virtual reserves.
// Returns 0 when the virtual token reserve is empty.
func (s *State) Price() float64 {
	tokens := RawTokenAmount(s.VirtualTokenReserves)
	if tokens <= 0 {
		return 0
	}
	return LamportsToSOL(s.VirtualSOLReserves) / tokens
}

// MarketCap returns price times total supply, falling back to a fixed
// 1e9 supply when the decoded supply is zero.
func (s *State) MarketCap() float64 {
	supply := RawTokenAmount(s.TotalSupply)
	if supply <= 0 {
		supply = FallbackTotalSupply
	}
	return s.Price() * supply
}

// Progress returns bonding-curve completion as a percentage of the
// graduation threshold, clamped to [0, 100].
func (s *State) Progress() float64 {
	pct := LamportsToSOL(s.RealSOLReserves) / GraduationThresholdSOL * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// LamportsToSOL converts a raw lamport amount (expected range
// [0, 2^64) lamports) to SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// RawTokenAmount converts a raw 6-decimal token amount to human units.
func RawTokenAmount(raw uint64) float64 {
	return float64(raw) / TokenDivisor
}

// NormalizeSOLAmount interprets an externally supplied SOL quantity that may
// be expressed in lamports. Values at or above 100 000 are assumed to be
// lamports (no memecoin trade plausibly moves that much SOL); anything
// smaller is taken as SOL already.
func NormalizeSOLAmount(v float64) float64 {
	if v >= 100_000 {
		return v / LamportsPerSOL
	}
	return v
}

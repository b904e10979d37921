package curve

import (
	"encoding/binary"
	"math"
	"testing"
)

// buildAccount constructs a raw 49-byte account payload.
func buildAccount(vTok, vSOL, rTok, rSOL, supply uint64, complete bool) []byte {
	buf := make([]byte, 49)
	binary.LittleEndian.PutUint64(buf[8:], vTok)
	binary.LittleEndian.PutUint64(buf[16:], vSOL)
	binary.LittleEndian.PutUint64(buf[24:], rTok)
	binary.LittleEndian.PutUint64(buf[32:], rSOL)
	binary.LittleEndian.PutUint64(buf[40:], supply)
	if complete {
		buf[48] = 1
	}
	return buf
}

func TestDecode_TooShort(t *testing.T) {
	for _, n := range []int{0, 1, 8, 48} {
		if _, err := Decode(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte payload", n)
		}
	}
}

func TestDecode_Fields(t *testing.T) {
	raw := buildAccount(100, 200, 300, 400, 500, true)
	st, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if st.VirtualTokenReserves != 100 || st.VirtualSOLReserves != 200 {
		t.Errorf("virtual reserves wrong: %+v", st)
	}
	if st.RealTokenReserves != 300 || st.RealSOLReserves != 400 {
		t.Errorf("real reserves wrong: %+v", st)
	}
	if st.TotalSupply != 500 || !st.Complete {
		t.Errorf("supply/complete wrong: %+v", st)
	}
}

func TestPrice(t *testing.T) {
	// 30 SOL virtual, 1_000_000 tokens virtual -> 30/1e6 SOL per token
	st := &State{
		VirtualSOLReserves:   30 * LamportsPerSOL,
		VirtualTokenReserves: 1_000_000 * TokenDivisor,
	}
	want := 30.0 / 1_000_000
	if got := st.Price(); math.Abs(got-want) > 1e-15 {
		t.Errorf("Price() = %v, want %v", got, want)
	}

	if got := (&State{}).Price(); got != 0 {
		t.Errorf("empty reserves price = %v, want 0", got)
	}
}

func TestMarketCap_FallbackSupply(t *testing.T) {
	st := &State{
		VirtualSOLReserves:   30 * LamportsPerSOL,
		VirtualTokenReserves: 1_000_000 * TokenDivisor,
		TotalSupply:          0,
	}
	want := st.Price() * FallbackTotalSupply
	if got := st.MarketCap(); math.Abs(got-want) > 1e-9 {
		t.Errorf("MarketCap() = %v, want %v", got, want)
	}
}

func TestProgress_Clamped(t *testing.T) {
	half := &State{RealSOLReserves: uint64(GraduationThresholdSOL / 2 * LamportsPerSOL)}
	if got := half.Progress(); math.Abs(got-50) > 1e-9 {
		t.Errorf("Progress() = %v, want 50", got)
	}

	over := &State{RealSOLReserves: uint64(GraduationThresholdSOL * 3 * LamportsPerSOL)}
	if got := over.Progress(); got != 100 {
		t.Errorf("Progress() = %v, want clamp to 100", got)
	}
}

func TestNormalizeSOLAmount(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.5, 1.5},
		{0, 0},
		{99_999, 99_999},
		{2_000_000_000, 2.0}, // lamports
	}
	for _, c := range cases {
		if got := NormalizeSOLAmount(c.in); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("NormalizeSOLAmount(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

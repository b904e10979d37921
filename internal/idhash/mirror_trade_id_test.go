package idhash

import "testing"

func TestComputeMirrorTradeID(t *testing.T) {
	a := ComputeMirrorTradeID("sig1", "mintA", "buy")
	b := ComputeMirrorTradeID("sig1", "mintA", "buy")

	if a != b {
		t.Error("trade ID not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("trade ID length = %d, want 64", len(a))
	}
}

func TestComputeMirrorTradeID_Distinct(t *testing.T) {
	base := ComputeMirrorTradeID("sig1", "mintA", "buy")

	variants := []string{
		ComputeMirrorTradeID("sig2", "mintA", "buy"),
		ComputeMirrorTradeID("sig1", "mintB", "buy"),
		ComputeMirrorTradeID("sig1", "mintA", "sell"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base", i)
		}
	}
}

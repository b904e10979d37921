package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeMirrorTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(source_signature|mint|side)
// Returns hex-encoded hash (64 characters).
func ComputeMirrorTradeID(sourceSignature, mint, side string) string {
	data := fmt.Sprintf("%s|%s|%s", sourceSignature, mint, side)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

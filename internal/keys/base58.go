package keys

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// base58Encode/base58Decode wrap the pack's base58 implementation
// (promoted from haasonsaas-nexus's Bitcoin/Nostr dependency tree), the
// closest available equivalent to the original's bs58 crate.
func base58Encode(data []byte) string {
	return base58.Encode(data)
}

func base58Decode(s string) ([]byte, error) {
	decoded := base58.Decode(s)
	if len(decoded) == 0 && s != "" {
		return nil, fmt.Errorf("invalid base58 string")
	}
	return decoded, nil
}

package reconcile

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress lowercases a 0x-prefixed 20-byte hex address. ok is false for anything else.
func NormalizeAddress(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return "", false
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", false
	}
	return s, true
}

// ChecksumAddress renders an address in EIP-55 mixed case. Invalid input is returned as given.
func ChecksumAddress(s string) string {
	addr, ok := NormalizeAddress(s)
	if !ok {
		return s
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(addr[2:]))
	digest := h.Sum(nil)

	out := []byte(addr)
	for i := 2; i < len(out); i++ {
		c := out[i]
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[(i-2)/2]
		if (i-2)%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

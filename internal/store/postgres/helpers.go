package postgres

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Addresses and hashes are stored as lowercase 0x-hex text; big integers go
// through their decimal string form and NUMERIC(78) columns, which covers
// the full uint256 range without driver-specific numeric types.

func addrStr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func hashStr(h common.Hash) string {
	return strings.ToLower(h.Hex())
}

func numStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNum(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func parseNumPtr(s *string) *big.Int {
	if s == nil {
		return nil
	}
	return parseNum(*s)
}

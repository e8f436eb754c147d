package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Raw ABI word access. Handlers read fixed slots out of log data instead of
// going through generated bindings, the payloads here are small and stable.

func needWords(data []byte, n int) error {
	if len(data) < n*32 {
		return fmt.Errorf("events: want %d data words, have %d bytes: %w", n, len(data), domain.ErrMalformedLog)
	}
	return nil
}

func wordBig(data []byte, i int) *big.Int {
	return new(big.Int).SetBytes(data[i*32 : (i+1)*32])
}

func wordAddr(data []byte, i int) common.Address {
	return common.BytesToAddress(data[i*32+12 : (i+1)*32])
}

func wordBool(data []byte, i int) bool {
	return data[(i+1)*32-1] != 0
}

func wordHash(data []byte, i int) common.Hash {
	return common.BytesToHash(data[i*32 : (i+1)*32])
}

func topicAddr(t common.Hash) common.Address {
	return common.BytesToAddress(t[12:])
}

func topicBig(t common.Hash) *big.Int {
	return new(big.Int).SetBytes(t[:])
}

// wordList decodes a dynamic uint256[] whose offset lives at slot i.
func wordList(data []byte, i int) ([]*big.Int, error) {
	if err := needWords(data, i+1); err != nil {
		return nil, err
	}
	off := wordBig(data, i)
	if !off.IsInt64() || off.Int64()%32 != 0 {
		return nil, fmt.Errorf("events: bad array offset %s: %w", off, domain.ErrMalformedLog)
	}
	base := int(off.Int64() / 32)
	if err := needWords(data, base+1); err != nil {
		return nil, err
	}
	n := wordBig(data, base)
	if !n.IsInt64() || n.Int64() > int64(len(data)/32) {
		return nil, fmt.Errorf("events: bad array length %s: %w", n, domain.ErrMalformedLog)
	}
	count := int(n.Int64())
	if err := needWords(data, base+1+count); err != nil {
		return nil, err
	}
	out := make([]*big.Int, count)
	for j := 0; j < count; j++ {
		out[j] = wordBig(data, base+1+j)
	}
	return out, nil
}

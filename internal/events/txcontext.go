package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// txContext accumulates the raw logs of the transaction currently being
// folded, so handlers can resolve details their own log omits by looking
// at sibling logs.
type txContext struct {
	hash common.Hash
	logs []types.Log
}

// observe resets the context on a transaction boundary and records the log.
func (t *txContext) observe(l types.Log) {
	if t.hash != l.TxHash {
		t.hash = l.TxHash
		t.logs = t.logs[:0]
	}
	t.logs = append(t.logs, l)
}

// erc20Transfer holds a decoded fungible transfer found in the context.
type erc20Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// erc20Before scans the transaction's earlier logs for the last ERC20
// transfer preceding logIndex. Marketplace fill logs do not name the
// payment token, the transfer that moved the funds does.
func (t *txContext) erc20Before(logIndex uint) (erc20Transfer, bool) {
	transferTopic := TopicHash("Transfer(address,address,uint256)")
	for i := len(t.logs) - 1; i >= 0; i-- {
		l := t.logs[i]
		if l.Index >= logIndex {
			continue
		}
		if len(l.Topics) != 3 || l.Topics[0] != transferTopic || len(l.Data) < 32 {
			continue
		}
		return erc20Transfer{
			Token:  l.Address,
			From:   topicAddr(l.Topics[1]),
			To:     topicAddr(l.Topics[2]),
			Amount: wordBig(l.Data, 0),
		}, true
	}
	return erc20Transfer{}, false
}

// precedingNftTransfer resolves the NFT transfer a positional fill log
// refers to: the most recently emitted canonical NFT transfer must belong
// to the same transaction, sit at exactly the previous log index, and be
// the sole entry of its log (batch index 1). Anything else means the fill
// cannot be attributed safely.
func precedingNftTransfer(batch *domain.EventBatch, txHash common.Hash, logIndex uint) (*domain.NftTransferEvent, bool) {
	if len(batch.NftTransfers) == 0 {
		return nil, false
	}
	last := &batch.NftTransfers[len(batch.NftTransfers)-1]
	if last.Base.TxHash != txHash || last.Base.LogIndex != logIndex-1 || last.Base.BatchIndex != 1 {
		return nil, false
	}
	return last, true
}

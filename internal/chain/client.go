// Package chain wraps the Ethereum JSON-RPC surface the pipeline needs:
// log filtering, headers, transaction envelopes, and token balances.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/crypto/sha3"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Client is an RPC-backed chain reader.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", url, err)
	}
	return &Client{eth: ethclient.NewClient(rc), rpc: rc}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// HeadNumber returns the current chain head height.
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: head number: %w", err)
	}
	return n, nil
}

// Header returns the header at the given height.
func (c *Client) Header(ctx context.Context, number uint64) (*types.Header, error) {
	h, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("chain: header %d: %w", number, err)
	}
	return h, nil
}

// BlockHash returns the canonical hash at the given height.
func (c *Client) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	h, err := c.Header(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	return h.Hash(), nil
}

// Logs returns every log in [from, to] whose topic0 is in topics.
func (c *Client) Logs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d, %d]: %w", from, to, err)
	}
	return logs, nil
}

// rpcTransaction is the subset of eth_getTransactionByHash we decode. Going
// through the raw RPC response gives the sender without signature recovery.
type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

// Transaction returns the envelope of the given transaction.
func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*domain.TxInfo, error) {
	var raw *rpcTransaction
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("chain: get transaction %s: %w", hash, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("chain: transaction %s: %w", hash, domain.ErrNotFound)
	}
	tx := &domain.TxInfo{Hash: raw.Hash, From: raw.From, Data: raw.Input}
	if raw.To != nil {
		tx.To = *raw.To
	}
	return tx, nil
}

// balanceOfSelector is keccak("balanceOf(address)")[:4].
var balanceOfSelector = func() []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("balanceOf(address)"))
	return h.Sum(nil)[:4]
}()

// FtBalance reads an ERC20 balance, or the native balance when currency is
// the zero address. Implements domain.FtBalanceReader.
func (c *Client) FtBalance(ctx context.Context, currency, owner common.Address) (*big.Int, error) {
	if currency == (common.Address{}) {
		bal, err := c.eth.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("chain: native balance %s: %w", owner, err)
		}
		return bal, nil
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &currency, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s/%s: %w", currency, owner, err)
	}
	return new(big.Int).SetBytes(out), nil
}

var _ domain.FtBalanceReader = (*Client)(nil)

package events

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

var testBook = AddressBook{
	WETH:      common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"),
	WyvernV2:  common.HexToAddress("0x7be8076f4ea4a4ad08075c2508e481d6c946d12b"),
	WyvernV23: common.HexToAddress("0x7f268357a8c2552623316e2562d90e642bb538e5"),
	LooksRare: common.HexToAddress("0x59728544b08ab483533076417fbbb2fd0b17ce3a"),
	ZeroExV4:  common.HexToAddress("0xdef1c0ded9bec7f1a1670819833240f027b25eff"),
	Seaport:   common.HexToAddress("0x00000000006c3852cbef3e08e8df289169ede581"),
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}

func bigTopic(v *big.Int) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(v.Bytes(), 32))
}

func packWords(vals ...interface{}) []byte {
	var out []byte
	for _, v := range vals {
		switch x := v.(type) {
		case *big.Int:
			out = append(out, common.LeftPadBytes(x.Bytes(), 32)...)
		case int64:
			out = append(out, common.LeftPadBytes(big.NewInt(x).Bytes(), 32)...)
		case common.Address:
			out = append(out, common.LeftPadBytes(x.Bytes(), 32)...)
		case common.Hash:
			out = append(out, x.Bytes()...)
		default:
			panic("packWords: unsupported value")
		}
	}
	return out
}

type fakeResolver struct {
	order *domain.Order
	err   error
}

func (f *fakeResolver) ResolveByNonce(context.Context, domain.OrderKind, common.Address, *big.Int, common.Address, *big.Int) (*domain.Order, error) {
	return f.order, f.err
}

func newTestNormalizer(resolver OrderResolver) *Normalizer {
	return NewNormalizer(NewRegistry(testBook), testBook, resolver, nil, slog.Default())
}

func constTime(uint64) int64 { return 1_700_000_000 }

func TestRegistryDisambiguatesTransferTopics(t *testing.T) {
	reg := NewRegistry(testBook)
	transfer := TopicHash("Transfer(address,address,uint256)")

	erc20 := &types.Log{Topics: []common.Hash{transfer, {}, {}}}
	ed, ok := reg.Classify(erc20)
	require.True(t, ok)
	assert.Equal(t, KindErc20Transfer, ed.Kind)

	erc721 := &types.Log{Topics: []common.Hash{transfer, {}, {}, {}}}
	ed, ok = reg.Classify(erc721)
	require.True(t, ok)
	assert.Equal(t, KindErc721Transfer, ed.Kind)
}

func TestRegistryAllowlist(t *testing.T) {
	reg := NewRegistry(testBook)
	deposit := TopicHash("Deposit(address,uint256)")

	weth := &types.Log{Address: testBook.WETH, Topics: []common.Hash{deposit, {}}}
	_, ok := reg.Classify(weth)
	assert.True(t, ok)

	impostor := &types.Log{Address: common.HexToAddress("0x01"), Topics: []common.Hash{deposit, {}}}
	_, ok = reg.Classify(impostor)
	assert.False(t, ok, "Deposit from a non-WETH contract must not classify")
}

func TestRegistryWyvernVersionsByAddress(t *testing.T) {
	reg := NewRegistry(testBook)
	match := TopicHash("OrdersMatched(bytes32,bytes32,address,address,uint256,bytes32)")
	topics := []common.Hash{match, {}, {}, {}}

	ed, ok := reg.Classify(&types.Log{Address: testBook.WyvernV2, Topics: topics})
	require.True(t, ok)
	assert.Equal(t, domain.OrderKindWyvernV2, ed.OrderKind)

	ed, ok = reg.Classify(&types.Log{Address: testBook.WyvernV23, Topics: topics})
	require.True(t, ok)
	assert.Equal(t, domain.OrderKindWyvernV23, ed.OrderKind)
}

func TestErc721MintProducesTransferAndMintInfo(t *testing.T) {
	n := newTestNormalizer(nil)
	contract := common.HexToAddress("0xaaaa")
	to := common.HexToAddress("0xbbbb")

	logs := []types.Log{{
		Address:     contract,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0x01"),
		Index:       3,
		Topics: []common.Hash{
			TopicHash("Transfer(address,address,uint256)"),
			addrTopic(common.Address{}),
			addrTopic(to),
			bigTopic(big.NewInt(42)),
		},
	}}

	batch, err := n.Process(context.Background(), logs, constTime, false)
	require.NoError(t, err)

	require.Len(t, batch.NftTransfers, 1)
	tr := batch.NftTransfers[0]
	assert.Equal(t, domain.ContractKindERC721, tr.Kind)
	assert.Equal(t, common.Address{}, tr.From)
	assert.Equal(t, to, tr.To)
	assert.Equal(t, int64(42), tr.TokenID.Int64())
	assert.Equal(t, 1, tr.Base.BatchIndex)

	require.Len(t, batch.MintInfos, 1)
	assert.Equal(t, contract, batch.MintInfos[0].Contract)

	// Only the receiver gets a balance recheck on a mint.
	require.Len(t, batch.MakerInfos, 1)
	assert.Equal(t, to, batch.MakerInfos[0].Maker)
	assert.Equal(t, domain.MakerInfoSellBalance, batch.MakerInfos[0].Kind)
}

func TestErc1155BatchExpandsWithBatchIndexes(t *testing.T) {
	n := newTestNormalizer(nil)
	from := common.HexToAddress("0x01")
	to := common.HexToAddress("0x02")

	// ids [7, 9], amounts [3, 5]
	data := packWords(
		int64(64),      // ids offset
		int64(160),     // amounts offset
		int64(2), int64(7), int64(9),
		int64(2), int64(3), int64(5),
	)
	logs := []types.Log{{
		Address: common.HexToAddress("0xcc"),
		TxHash:  common.HexToHash("0x02"),
		Topics: []common.Hash{
			TopicHash("TransferBatch(address,address,address,uint256[],uint256[])"),
			addrTopic(common.HexToAddress("0x0f")),
			addrTopic(from),
			addrTopic(to),
		},
		Data: data,
	}}

	batch, err := n.Process(context.Background(), logs, constTime, false)
	require.NoError(t, err)

	require.Len(t, batch.NftTransfers, 2)
	assert.Equal(t, 1, batch.NftTransfers[0].Base.BatchIndex)
	assert.Equal(t, int64(7), batch.NftTransfers[0].TokenID.Int64())
	assert.Equal(t, int64(3), batch.NftTransfers[0].Amount.Int64())
	assert.Equal(t, 2, batch.NftTransfers[1].Base.BatchIndex)
	assert.Equal(t, int64(9), batch.NftTransfers[1].TokenID.Int64())
	assert.Equal(t, int64(5), batch.NftTransfers[1].Amount.Int64())
}

func TestLooksRareTakerAskEmitsBuyFillAndNonceCancel(t *testing.T) {
	n := newTestNormalizer(nil)
	taker := common.HexToAddress("0x11")
	maker := common.HexToAddress("0x22")
	currency := testBook.WETH
	collection := common.HexToAddress("0x33")
	orderHash := common.HexToHash("0xabcd")

	data := packWords(
		orderHash,
		int64(77),  // nonce
		currency,
		collection,
		int64(5),   // tokenId
		int64(2),   // amount
		int64(600), // total price
	)
	logs := []types.Log{{
		Address: testBook.LooksRare,
		TxHash:  common.HexToHash("0x03"),
		Index:   8,
		Topics: []common.Hash{
			TopicHash("TakerAsk(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)"),
			addrTopic(taker),
			addrTopic(maker),
			addrTopic(common.HexToAddress("0x44")),
		},
		Data: data,
	}}

	batch, err := n.Process(context.Background(), logs, constTime, false)
	require.NoError(t, err)

	require.Len(t, batch.Fills, 1)
	fill := batch.Fills[0]
	assert.Equal(t, domain.OrderSideBuy, fill.OrderSide)
	assert.Equal(t, maker, fill.Maker)
	assert.Equal(t, taker, fill.Taker)
	assert.Equal(t, orderHash.Hex(), fill.OrderID)
	assert.Equal(t, int64(300), fill.Price.Int64(), "price is per unit")
	assert.Equal(t, int64(2), fill.Amount.Int64())

	require.Len(t, batch.NonceCancels, 1)
	nc := batch.NonceCancels[0]
	assert.Equal(t, maker, nc.Maker)
	assert.Equal(t, int64(77), nc.Nonce.Int64())
	assert.Equal(t, fill.Base.LogIndex, nc.Base.LogIndex)

	require.Len(t, batch.FillInfos, 1)
	require.Len(t, batch.OrderInfos, 1)
	assert.Equal(t, "filled-"+orderHash.Hex(), batch.OrderInfos[0].Context)
}

func wyvernMatchLog(price *big.Int, buyHash, sellHash common.Hash, maker, taker common.Address, index uint) types.Log {
	return types.Log{
		Address: testBook.WyvernV23,
		TxHash:  common.HexToHash("0x04"),
		Index:   index,
		Topics: []common.Hash{
			TopicHash("OrdersMatched(bytes32,bytes32,address,address,uint256,bytes32)"),
			addrTopic(maker),
			addrTopic(taker),
			{},
		},
		Data: packWords(buyHash, sellHash, price),
	}
}

func TestWyvernMatchResolvesTokenFromPrecedingTransfer(t *testing.T) {
	n := newTestNormalizer(nil)
	seller := common.HexToAddress("0x51")
	buyer := common.HexToAddress("0x52")
	contract := common.HexToAddress("0x53")

	transfer := types.Log{
		Address: contract,
		TxHash:  common.HexToHash("0x04"),
		Index:   6,
		Topics: []common.Hash{
			TopicHash("Transfer(address,address,uint256)"),
			addrTopic(seller),
			addrTopic(buyer),
			bigTopic(big.NewInt(9)),
		},
	}
	match := wyvernMatchLog(big.NewInt(1000), common.Hash{}, common.HexToHash("0x77"), seller, buyer, 7)

	batch, err := n.Process(context.Background(), []types.Log{transfer, match}, constTime, false)
	require.NoError(t, err)

	require.Len(t, batch.Fills, 1)
	fill := batch.Fills[0]
	assert.Equal(t, domain.OrderSideSell, fill.OrderSide)
	assert.Equal(t, contract, fill.Contract)
	assert.Equal(t, int64(9), fill.TokenID.Int64())
	assert.Equal(t, seller, fill.Maker)
	assert.Equal(t, buyer, fill.Taker)
	assert.Equal(t, 1, fill.Base.BatchIndex)
}

func TestWyvernMatchWithoutTransferIsSkipped(t *testing.T) {
	n := newTestNormalizer(nil)
	match := wyvernMatchLog(big.NewInt(1000), common.Hash{}, common.HexToHash("0x77"),
		common.HexToAddress("0x51"), common.HexToAddress("0x52"), 7)

	batch, err := n.Process(context.Background(), []types.Log{match}, constTime, false)
	require.NoError(t, err)
	assert.Empty(t, batch.Fills)
}

func TestWyvernTwoSidedMatchEmitsBothFills(t *testing.T) {
	n := newTestNormalizer(nil)
	bidder := common.HexToAddress("0x61")
	seller := common.HexToAddress("0x62")
	contract := common.HexToAddress("0x63")

	transfer := types.Log{
		Address: contract,
		TxHash:  common.HexToHash("0x04"),
		Index:   6,
		Topics: []common.Hash{
			TopicHash("Transfer(address,address,uint256)"),
			addrTopic(seller),
			addrTopic(bidder),
			bigTopic(big.NewInt(1)),
		},
	}
	match := wyvernMatchLog(big.NewInt(500), common.HexToHash("0xb1"), common.HexToHash("0xe1"), bidder, seller, 7)

	batch, err := n.Process(context.Background(), []types.Log{transfer, match}, constTime, false)
	require.NoError(t, err)

	require.Len(t, batch.Fills, 2)
	assert.Equal(t, domain.OrderSideBuy, batch.Fills[0].OrderSide)
	assert.Equal(t, 1, batch.Fills[0].Base.BatchIndex)
	assert.Equal(t, bidder, batch.Fills[0].Maker)
	assert.Equal(t, domain.OrderSideSell, batch.Fills[1].OrderSide)
	assert.Equal(t, 2, batch.Fills[1].Base.BatchIndex)
	assert.Equal(t, seller, batch.Fills[1].Maker)
}

func zeroExV4FillLog(maker, taker common.Address, nonce, amount int64) types.Log {
	return types.Log{
		Address: testBook.ZeroExV4,
		TxHash:  common.HexToHash("0x05"),
		Topics: []common.Hash{
			TopicHash("ERC721OrderFilled(uint8,address,address,uint256,address,uint256,address,uint256,address)"),
		},
		Data: packWords(
			int64(0), // direction: maker sells
			maker,
			taker,
			nonce,
			testBook.WETH,
			amount, // fee-exclusive erc20 amount
			common.HexToAddress("0x71"),
			int64(12),
			common.Address{},
		),
	}
}

func TestZeroExV4FillUsesStoredPriceWhenResolved(t *testing.T) {
	resolver := &fakeResolver{order: &domain.Order{
		ID:            "order-1",
		CurrencyPrice: big.NewInt(1050),
	}}
	n := newTestNormalizer(resolver)

	maker := common.HexToAddress("0x81")
	logs := []types.Log{zeroExV4FillLog(maker, common.HexToAddress("0x82"), 5, 1000)}

	batch, err := n.Process(context.Background(), logs, constTime, false)
	require.NoError(t, err)

	require.Len(t, batch.Fills, 1)
	assert.Equal(t, "order-1", batch.Fills[0].OrderID)
	assert.Equal(t, int64(1050), batch.Fills[0].Price.Int64(), "stored gross price wins over fee-exclusive amount")

	require.Len(t, batch.NonceCancels, 1)
	assert.Equal(t, int64(5), batch.NonceCancels[0].Nonce.Int64())
}

func TestZeroExV4FillFallsBackToOnChainPrice(t *testing.T) {
	n := newTestNormalizer(&fakeResolver{err: domain.ErrNotFound})

	logs := []types.Log{zeroExV4FillLog(common.HexToAddress("0x81"), common.HexToAddress("0x82"), 5, 1000)}
	batch, err := n.Process(context.Background(), logs, constTime, false)
	require.NoError(t, err)

	require.Len(t, batch.Fills, 1)
	assert.Empty(t, batch.Fills[0].OrderID)
	assert.Equal(t, int64(1000), batch.Fills[0].Price.Int64())
}

func TestZeroExV4BackfillSkipsResolution(t *testing.T) {
	resolver := &fakeResolver{order: &domain.Order{ID: "order-1", CurrencyPrice: big.NewInt(1050)}}
	n := newTestNormalizer(resolver)

	logs := []types.Log{zeroExV4FillLog(common.HexToAddress("0x81"), common.HexToAddress("0x82"), 5, 1000)}
	batch, err := n.Process(context.Background(), logs, constTime, true)
	require.NoError(t, err)

	require.Len(t, batch.Fills, 1)
	assert.Empty(t, batch.Fills[0].OrderID)
	assert.Equal(t, int64(1000), batch.Fills[0].Price.Int64())
}

func TestProcessFailsClosedOnMalformedLog(t *testing.T) {
	n := newTestNormalizer(nil)

	good := types.Log{
		Address: common.HexToAddress("0xaa"),
		TxHash:  common.HexToHash("0x06"),
		Topics: []common.Hash{
			TopicHash("Transfer(address,address,uint256)"),
			addrTopic(common.HexToAddress("0x01")),
			addrTopic(common.HexToAddress("0x02")),
			bigTopic(big.NewInt(1)),
		},
	}
	bad := types.Log{
		Address: common.HexToAddress("0xbb"),
		TxHash:  common.HexToHash("0x06"),
		Topics: []common.Hash{
			TopicHash("TransferSingle(address,address,address,uint256,uint256)"),
			addrTopic(common.HexToAddress("0x0f")),
			addrTopic(common.HexToAddress("0x01")),
			addrTopic(common.HexToAddress("0x02")),
		},
		Data: packWords(int64(1)), // missing the amount word
	}

	batch, err := n.Process(context.Background(), []types.Log{good, bad}, constTime, false)
	assert.Nil(t, batch, "a handler failure discards the whole batch")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedLog)
}

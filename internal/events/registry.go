package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Kind names one protocol event signature the pipeline understands.
type Kind string

const (
	KindErc20Transfer       Kind = "erc20-transfer"
	KindWethDeposit         Kind = "weth-deposit"
	KindWethWithdrawal      Kind = "weth-withdrawal"
	KindErc721Transfer      Kind = "erc721-transfer"
	KindErc1155Single       Kind = "erc1155-transfer-single"
	KindErc1155Batch        Kind = "erc1155-transfer-batch"
	KindApprovalForAll      Kind = "approval-for-all"
	KindWyvernV2Match       Kind = "wyvern-v2-orders-matched"
	KindWyvernV2Cancel      Kind = "wyvern-v2-order-cancelled"
	KindWyvernV23Match      Kind = "wyvern-v2.3-orders-matched"
	KindWyvernV23Cancel     Kind = "wyvern-v2.3-order-cancelled"
	KindWyvernV23NonceBump  Kind = "wyvern-v2.3-nonce-incremented"
	KindLooksRareCancelAll  Kind = "looks-rare-cancel-all-orders"
	KindLooksRareCancelMany Kind = "looks-rare-cancel-multiple-orders"
	KindLooksRareTakerAsk   Kind = "looks-rare-taker-ask"
	KindLooksRareTakerBid   Kind = "looks-rare-taker-bid"
	KindZeroExV4Erc721Fill  Kind = "zeroex-v4-erc721-order-filled"
	KindZeroExV4Erc721Canc  Kind = "zeroex-v4-erc721-order-cancelled"
	KindZeroExV4Erc1155Fill Kind = "zeroex-v4-erc1155-order-filled"
	KindZeroExV4Erc1155Canc Kind = "zeroex-v4-erc1155-order-cancelled"
	KindSeaportFulfilled    Kind = "seaport-order-fulfilled"
	KindSeaportCancelled    Kind = "seaport-order-cancelled"
	KindSeaportCounterBump  Kind = "seaport-counter-incremented"
	KindSudoswapBuy         Kind = "sudoswap-buy"
	KindSudoswapSell        Kind = "sudoswap-sell"
	KindSudoswapSpotPrice   Kind = "sudoswap-spot-price-update"
	KindSudoswapDelta       Kind = "sudoswap-delta-update"
)

// EventData pairs an event kind with everything needed to recognize its
// logs: the topic0 signature hash, the exact topic count, and an optional
// contract allowlist for signatures shared across deployments.
type EventData struct {
	Kind      Kind
	OrderKind domain.OrderKind
	Topic     common.Hash
	NumTopics int
	Addresses map[common.Address]struct{}
}

// Matches reports whether the log is an instance of this event.
func (e *EventData) Matches(l *types.Log) bool {
	if len(l.Topics) != e.NumTopics || l.Topics[0] != e.Topic {
		return false
	}
	if e.Addresses != nil {
		if _, ok := e.Addresses[l.Address]; !ok {
			return false
		}
	}
	return true
}

// AddressBook holds the per-chain contract deployments the registry keys
// allowlists off, plus known router/aggregator contracts for attribution.
type AddressBook struct {
	WETH      common.Address
	WyvernV2  common.Address
	WyvernV23 common.Address
	LooksRare common.Address
	ZeroExV4  common.Address
	Seaport   common.Address
	// Routers maps aggregator contract addresses to a source label. A fill
	// whose transaction targets one of these gets its taker re-attributed
	// to the transaction sender.
	Routers map[common.Address]string
}

// TopicHash returns keccak256 of a canonical event signature.
func TopicHash(signature string) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return common.BytesToHash(h.Sum(nil))
}

// Registry is the ordered table of recognized event signatures. Entries
// sharing a topic are disambiguated by topic count and address allowlist,
// first match wins.
type Registry struct {
	entries []EventData
	topics  []common.Hash
}

func only(addrs ...common.Address) map[common.Address]struct{} {
	m := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return m
}

// NewRegistry builds the signature table for one chain's address book.
func NewRegistry(book AddressBook) *Registry {
	var (
		transferTopic      = TopicHash("Transfer(address,address,uint256)")
		wyvernMatchTopic   = TopicHash("OrdersMatched(bytes32,bytes32,address,address,uint256,bytes32)")
		wyvernCancelTopic  = TopicHash("OrderCancelled(bytes32)")
		looksTakerSigTail  = "(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)"
		erc721FillTopic    = TopicHash("ERC721OrderFilled(uint8,address,address,uint256,address,uint256,address,uint256,address)")
		erc1155FillTopic   = TopicHash("ERC1155OrderFilled(uint8,address,address,uint256,address,uint256,address,uint256,uint128,address)")
		erc721CancelTopic  = TopicHash("ERC721OrderCancelled(address,uint256)")
		erc1155CancelTopic = TopicHash("ERC1155OrderCancelled(address,uint256)")
	)

	entries := []EventData{
		// The ERC20 and ERC721 Transfer signatures collide on topic0 and
		// only differ in how many parameters are indexed.
		{Kind: KindErc20Transfer, Topic: transferTopic, NumTopics: 3},
		{Kind: KindErc721Transfer, Topic: transferTopic, NumTopics: 4},
		{Kind: KindWethDeposit, Topic: TopicHash("Deposit(address,uint256)"), NumTopics: 2, Addresses: only(book.WETH)},
		{Kind: KindWethWithdrawal, Topic: TopicHash("Withdrawal(address,uint256)"), NumTopics: 2, Addresses: only(book.WETH)},
		{Kind: KindErc1155Single, Topic: TopicHash("TransferSingle(address,address,address,uint256,uint256)"), NumTopics: 4},
		{Kind: KindErc1155Batch, Topic: TopicHash("TransferBatch(address,address,address,uint256[],uint256[])"), NumTopics: 4},
		{Kind: KindApprovalForAll, Topic: TopicHash("ApprovalForAll(address,address,bool)"), NumTopics: 3},

		{Kind: KindWyvernV2Match, OrderKind: domain.OrderKindWyvernV2, Topic: wyvernMatchTopic, NumTopics: 4, Addresses: only(book.WyvernV2)},
		{Kind: KindWyvernV2Cancel, OrderKind: domain.OrderKindWyvernV2, Topic: wyvernCancelTopic, NumTopics: 2, Addresses: only(book.WyvernV2)},
		{Kind: KindWyvernV23Match, OrderKind: domain.OrderKindWyvernV23, Topic: wyvernMatchTopic, NumTopics: 4, Addresses: only(book.WyvernV23)},
		{Kind: KindWyvernV23Cancel, OrderKind: domain.OrderKindWyvernV23, Topic: wyvernCancelTopic, NumTopics: 2, Addresses: only(book.WyvernV23)},
		{Kind: KindWyvernV23NonceBump, OrderKind: domain.OrderKindWyvernV23, Topic: TopicHash("NonceIncremented(address,uint256)"), NumTopics: 2, Addresses: only(book.WyvernV23)},

		{Kind: KindLooksRareCancelAll, OrderKind: domain.OrderKindLooksRare, Topic: TopicHash("CancelAllOrders(address,uint256)"), NumTopics: 2, Addresses: only(book.LooksRare)},
		{Kind: KindLooksRareCancelMany, OrderKind: domain.OrderKindLooksRare, Topic: TopicHash("CancelMultipleOrders(address,uint256[])"), NumTopics: 2, Addresses: only(book.LooksRare)},
		{Kind: KindLooksRareTakerAsk, OrderKind: domain.OrderKindLooksRare, Topic: TopicHash("TakerAsk" + looksTakerSigTail), NumTopics: 4, Addresses: only(book.LooksRare)},
		{Kind: KindLooksRareTakerBid, OrderKind: domain.OrderKindLooksRare, Topic: TopicHash("TakerBid" + looksTakerSigTail), NumTopics: 4, Addresses: only(book.LooksRare)},

		{Kind: KindZeroExV4Erc721Fill, OrderKind: domain.OrderKindZeroExV4ERC721, Topic: erc721FillTopic, NumTopics: 1, Addresses: only(book.ZeroExV4)},
		{Kind: KindZeroExV4Erc721Canc, OrderKind: domain.OrderKindZeroExV4ERC721, Topic: erc721CancelTopic, NumTopics: 1, Addresses: only(book.ZeroExV4)},
		{Kind: KindZeroExV4Erc1155Fill, OrderKind: domain.OrderKindZeroExV4ERC1155, Topic: erc1155FillTopic, NumTopics: 1, Addresses: only(book.ZeroExV4)},
		{Kind: KindZeroExV4Erc1155Canc, OrderKind: domain.OrderKindZeroExV4ERC1155, Topic: erc1155CancelTopic, NumTopics: 1, Addresses: only(book.ZeroExV4)},

		{Kind: KindSeaportFulfilled, OrderKind: domain.OrderKindSeaport, Topic: TopicHash("OrderFulfilled(bytes32,address,address,address,(uint8,address,uint256,uint256)[],(uint8,address,uint256,uint256,address)[])"), NumTopics: 3, Addresses: only(book.Seaport)},
		{Kind: KindSeaportCancelled, OrderKind: domain.OrderKindSeaport, Topic: TopicHash("OrderCancelled(bytes32,address,address)"), NumTopics: 3, Addresses: only(book.Seaport)},
		{Kind: KindSeaportCounterBump, OrderKind: domain.OrderKindSeaport, Topic: TopicHash("CounterIncremented(uint256,address)"), NumTopics: 2, Addresses: only(book.Seaport)},

		// Sudoswap pairs are factory-deployed, so no allowlist applies.
		{Kind: KindSudoswapBuy, OrderKind: domain.OrderKindSudoswap, Topic: TopicHash("SwapNFTOutPair()"), NumTopics: 1},
		{Kind: KindSudoswapSell, OrderKind: domain.OrderKindSudoswap, Topic: TopicHash("SwapNFTInPair()"), NumTopics: 1},
		{Kind: KindSudoswapSpotPrice, OrderKind: domain.OrderKindSudoswap, Topic: TopicHash("SpotPriceUpdate(uint128)"), NumTopics: 1},
		{Kind: KindSudoswapDelta, OrderKind: domain.OrderKindSudoswap, Topic: TopicHash("DeltaUpdate(uint128)"), NumTopics: 1},
	}

	seen := make(map[common.Hash]struct{})
	topics := make([]common.Hash, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Topic]; !ok {
			seen[e.Topic] = struct{}{}
			topics = append(topics, e.Topic)
		}
	}
	return &Registry{entries: entries, topics: topics}
}

// Classify returns the event data matching the log, or false when the log
// is not a recognized protocol event.
func (r *Registry) Classify(l *types.Log) (*EventData, bool) {
	for i := range r.entries {
		if r.entries[i].Matches(l) {
			return &r.entries[i], true
		}
	}
	return nil, false
}

// Topics returns the distinct topic0 values to subscribe log filters with.
func (r *Registry) Topics() []common.Hash {
	out := make([]common.Hash, len(r.topics))
	copy(out, r.topics)
	return out
}

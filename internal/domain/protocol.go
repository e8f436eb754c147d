package domain

// OrderKind identifies the marketplace protocol an order (or an event about
// one) belongs to.
type OrderKind string

const (
	OrderKindWyvernV2        OrderKind = "wyvern-v2"
	OrderKindWyvernV23       OrderKind = "wyvern-v2.3"
	OrderKindLooksRare       OrderKind = "looks-rare"
	OrderKindZeroExV4ERC721  OrderKind = "zeroex-v4-erc721"
	OrderKindZeroExV4ERC1155 OrderKind = "zeroex-v4-erc1155"
	OrderKindSeaport         OrderKind = "seaport"
	OrderKindX2Y2            OrderKind = "x2y2"
	OrderKindSudoswap        OrderKind = "sudoswap"
	OrderKindNFTX            OrderKind = "nftx"
)

// IsPool reports whether orders of this kind are backed by an AMM pool
// rather than a maker wallet. Pool orders reprice per unit along a price
// ladder and are exempt from maker balance simulation.
func (k OrderKind) IsPool() bool {
	return k == OrderKindSudoswap || k == OrderKindNFTX
}

// DisallowsFlagged reports whether fills through this protocol are rejected
// for tokens flagged as suspicious, matching the marketplaces that refuse
// to trade them.
func (k OrderKind) DisallowsFlagged() bool {
	switch k {
	case OrderKindSeaport, OrderKindX2Y2:
		return true
	}
	return false
}

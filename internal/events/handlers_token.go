package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftagg/internal/domain"
)

// Vanilla token-standard events: fungible transfers, NFT transfers and
// operator approvals. These carry no order semantics themselves but feed
// balance materialization, mint detection and maker rechecks.

func (n *Normalizer) handleFtTransfer(kind Kind, l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 1); err != nil {
		return err
	}
	ev := domain.FtTransferEvent{Base: base, Amount: wordBig(l.Data, 0)}
	switch kind {
	case KindErc20Transfer:
		ev.From = topicAddr(l.Topics[1])
		ev.To = topicAddr(l.Topics[2])
	case KindWethDeposit:
		// Wrapping mints WETH out of nowhere, modelled as a transfer from
		// the zero address.
		ev.To = topicAddr(l.Topics[1])
	case KindWethWithdrawal:
		ev.From = topicAddr(l.Topics[1])
	}
	batch.FtTransfers = append(batch.FtTransfers, ev)

	// Either party may be the maker of an open bid whose funding changed.
	for _, maker := range []common.Address{ev.From, ev.To} {
		if maker == (common.Address{}) {
			continue
		}
		batch.MakerInfos = append(batch.MakerInfos, domain.MakerInfo{
			Context:  domain.BalanceContext(base.TxHash, l.Address, big.NewInt(0), maker),
			Maker:    maker,
			Kind:     domain.MakerInfoBuyBalance,
			Contract: l.Address,
		})
	}
	return nil
}

func (n *Normalizer) handleErc721Transfer(l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	from := topicAddr(l.Topics[1])
	to := topicAddr(l.Topics[2])
	tokenID := topicBig(l.Topics[3])

	batch.NftTransfers = append(batch.NftTransfers, domain.NftTransferEvent{
		Base:    base,
		Kind:    domain.ContractKindERC721,
		From:    from,
		To:      to,
		TokenID: tokenID,
		Amount:  big.NewInt(1),
	})
	n.transferFollowups(l.Address, from, to, tokenID, base, batch)
	return nil
}

func (n *Normalizer) handleErc1155Transfer(kind Kind, l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	from := topicAddr(l.Topics[2])
	to := topicAddr(l.Topics[3])

	var tokenIDs, amounts []*big.Int
	if kind == KindErc1155Single {
		if err := needWords(l.Data, 2); err != nil {
			return err
		}
		tokenIDs = []*big.Int{wordBig(l.Data, 0)}
		amounts = []*big.Int{wordBig(l.Data, 1)}
	} else {
		var err error
		if tokenIDs, err = wordList(l.Data, 0); err != nil {
			return err
		}
		if amounts, err = wordList(l.Data, 1); err != nil {
			return err
		}
		if len(tokenIDs) != len(amounts) {
			return domain.ErrMalformedLog
		}
	}

	for i := range tokenIDs {
		b := base
		b.BatchIndex = i + 1
		batch.NftTransfers = append(batch.NftTransfers, domain.NftTransferEvent{
			Base:    b,
			Kind:    domain.ContractKindERC1155,
			From:    from,
			To:      to,
			TokenID: tokenIDs[i],
			Amount:  amounts[i],
		})
		n.transferFollowups(l.Address, from, to, tokenIDs[i], b, batch)
	}
	return nil
}

// transferFollowups emits the trigger records every NFT transfer implies:
// sell-side balance rechecks for both parties and a metadata backfill when
// the transfer is a mint.
func (n *Normalizer) transferFollowups(contract common.Address, from, to common.Address, tokenID *big.Int, base domain.BaseEventParams, batch *domain.EventBatch) {
	for _, maker := range []common.Address{from, to} {
		if maker == (common.Address{}) {
			continue
		}
		batch.MakerInfos = append(batch.MakerInfos, domain.MakerInfo{
			Context:  domain.BalanceContext(base.TxHash, contract, tokenID, maker),
			Maker:    maker,
			Kind:     domain.MakerInfoSellBalance,
			Contract: contract,
			TokenID:  tokenID,
		})
	}
	if from == (common.Address{}) {
		batch.MintInfos = append(batch.MintInfos, domain.MintInfo{
			Context:  domain.BalanceContext(base.TxHash, contract, tokenID, to) + "-mint",
			Contract: contract,
			TokenID:  tokenID,
		})
	}
}

func (n *Normalizer) handleApprovalForAll(l *types.Log, base domain.BaseEventParams, batch *domain.EventBatch) error {
	if err := needWords(l.Data, 1); err != nil {
		return err
	}
	owner := topicAddr(l.Topics[1])
	operator := topicAddr(l.Topics[2])
	approved := wordBool(l.Data, 0)

	batch.NftApprovals = append(batch.NftApprovals, domain.NftApprovalEvent{
		Base:     base,
		Owner:    owner,
		Operator: operator,
		Approved: approved,
	})
	batch.MakerInfos = append(batch.MakerInfos, domain.MakerInfo{
		Context:  domain.ApprovalContext(base.TxHash, owner, operator),
		Maker:    owner,
		Kind:     domain.MakerInfoSellApproval,
		Contract: l.Address,
		Operator: operator,
		Approved: &approved,
	})
	return nil
}

package auction

import (
	"encoding/hex"
	"strconv"

	"sealedbid/core/types"
	"sealedbid/crypto"
)

const (
	EventTypeLotCreated      = "auction.lot_created"
	EventTypeBidSubmitted    = "auction.bid_submitted"
	EventTypeLotClosed       = "auction.lot_closed"
	EventTypeRevealRequested = "auction.reveal_requested"
	EventTypeRevealSettled   = "auction.reveal_settled"
	EventTypeGatewayUpdated  = "auction.gateway_updated"
)

func attrAddress(b [20]byte) string {
	return crypto.NewAddress(crypto.BidPrefix, append([]byte(nil), b[:]...)).String()
}

// NewLotCreatedEvent returns the canonical payload for a newly created lot.
// It carries no bid data and nothing encrypted.
func NewLotCreatedEvent(l *Lot) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeLotCreated, Attributes: attrs}
	}
	attrs["lotId"] = strconv.FormatUint(l.ID, 10)
	attrs["curator"] = attrAddress(l.Curator)
	attrs["startTime"] = strconv.FormatInt(l.StartTime, 10)
	attrs["endTime"] = strconv.FormatInt(l.EndTime, 10)
	attrs["metadataURI"] = l.MetadataURI
	return &types.Event{Type: EventTypeLotCreated, Attributes: attrs}
}

// NewBidSubmittedEvent returns the payload emitted when a sealed bid is
// recorded. It reveals participation and submission order, never the amount.
func NewBidSubmittedEvent(lotID uint64, bidder [20]byte, index uint64, saltHash [32]byte) *types.Event {
	attrs := map[string]string{
		"lotId":    strconv.FormatUint(lotID, 10),
		"bidder":   attrAddress(bidder),
		"bidIndex": strconv.FormatUint(index, 10),
		"saltHash": hex.EncodeToString(saltHash[:]),
	}
	return &types.Event{Type: EventTypeBidSubmitted, Attributes: attrs}
}

// NewLotClosedEvent returns the payload emitted when the curator closes a lot.
func NewLotClosedEvent(l *Lot) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeLotClosed, Attributes: attrs}
	}
	attrs["lotId"] = strconv.FormatUint(l.ID, 10)
	attrs["curator"] = attrAddress(l.Curator)
	attrs["bidCount"] = strconv.FormatUint(l.BidCount, 10)
	return &types.Event{Type: EventTypeLotClosed, Attributes: attrs}
}

// NewRevealRequestedEvent returns the payload the off-chain gateway watches
// for after a lot closes.
func NewRevealRequestedEvent(lotID uint64, operator [20]byte) *types.Event {
	attrs := map[string]string{
		"lotId":    strconv.FormatUint(lotID, 10),
		"operator": attrAddress(operator),
	}
	return &types.Event{Type: EventTypeRevealRequested, Attributes: attrs}
}

// NewRevealSettledEvent returns the payload emitted once the gateway's
// decrypted result is accepted.
func NewRevealSettledEvent(l *Lot) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeRevealSettled, Attributes: attrs}
	}
	attrs["lotId"] = strconv.FormatUint(l.ID, 10)
	attrs["winner"] = attrAddress(l.Winner)
	attrs["amount"] = strconv.FormatUint(l.RevealedAmount, 10)
	return &types.Event{Type: EventTypeRevealSettled, Attributes: attrs}
}

// NewGatewayOperatorUpdatedEvent returns the payload emitted on operator
// rotation.
func NewGatewayOperatorUpdatedEvent(operator [20]byte) *types.Event {
	attrs := map[string]string{
		"operator": attrAddress(operator),
	}
	return &types.Event{Type: EventTypeGatewayUpdated, Attributes: attrs}
}

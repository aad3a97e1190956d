package auction

import (
	"sealedbid/fhe"
)

// Lot captures one sealed-bid auction instance. The curator, bidding window,
// reserve and metadata are immutable once set; the lifecycle flags are
// monotonic and only ever transition false to true.
type Lot struct {
	ID          uint64
	Curator     [20]byte
	StartTime   int64
	EndTime     int64
	MetadataURI string
	CreatedAt   int64

	Closed          bool
	RevealRequested bool
	Settled         bool

	BidCount uint64

	EncryptedReserve      fhe.Handle
	EncryptedWinningBid   fhe.Handle
	EncryptedWinningIndex fhe.Handle

	// Populated only by SettleReveal.
	Winner         [20]byte
	RevealedAmount uint64
}

// Clone returns a copy of the lot so callers can safely mutate the copy
// without affecting the stored instance.
func (l *Lot) Clone() *Lot {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// Exists reports whether the lot slot is populated. The curator field is the
// existence marker: it is set exactly once at creation and never cleared.
func (l *Lot) Exists() bool {
	return l != nil && l.Curator != ([20]byte{})
}

// BidEnvelope records one bidder's sealed commitment within a lot. At most one
// envelope exists per (lot, bidder) pair; envelopes are never deleted and,
// once sealed, never updated.
type BidEnvelope struct {
	LotID       uint64
	Bidder      [20]byte
	Amount      fhe.Handle
	SaltHash    [32]byte
	SubmittedAt int64
	Index       uint64
	IsSealed    bool
}

// Clone returns a copy of the envelope.
func (b *BidEnvelope) Clone() *BidEnvelope {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

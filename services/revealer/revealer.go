// Package revealer runs an in-process reference implementation of the
// decryption gateway. It watches the engine's event stream and, when a lot
// requests its reveal, decrypts the winning index and bid with the gateway
// identity and feeds the cleartext result back through SettleReveal.
//
// A production deployment replaces this with the external oracle; the
// callback contract exercised here is identical.
package revealer

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"sealedbid/core/events"
	"sealedbid/core/types"
	"sealedbid/crypto"
	"sealedbid/fhe"
	"sealedbid/native/auction"
)

// payloadEvent is satisfied by the engine's emitted events, which carry the
// structured payload alongside the type.
type payloadEvent interface {
	Event() *types.Event
}

// Revealer subscribes to the auction event bus and settles lots whose reveal
// has been requested. Bidder identities are reconstructed from the public
// BidSubmitted events, the same way an off-chain oracle would index them.
type Revealer struct {
	engine   *auction.Engine
	crypt    fhe.Decrypter
	operator [20]byte
	logger   *slog.Logger

	mu      sync.Mutex
	bidders map[uint64]map[uint64][20]byte
}

// New constructs a revealer acting as the given gateway operator.
func New(engine *auction.Engine, crypt fhe.Decrypter, operator [20]byte, logger *slog.Logger) *Revealer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Revealer{
		engine:   engine,
		crypt:    crypt,
		operator: operator,
		logger:   logger.With("component", "revealer"),
		bidders:  make(map[uint64]map[uint64][20]byte),
	}
}

// Run consumes the bus until the context is cancelled. It is intended to be
// launched as a goroutine from the daemon.
func (r *Revealer) Run(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.Handle(evt)
		}
	}
}

// Handle processes a single event. Exposed for tests and for callers that
// drive the revealer synchronously.
func (r *Revealer) Handle(evt events.Event) {
	carrier, ok := evt.(payloadEvent)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	switch payload.Type {
	case auction.EventTypeBidSubmitted:
		r.recordBidder(payload)
	case auction.EventTypeRevealRequested:
		r.settle(payload)
	}
}

func (r *Revealer) recordBidder(payload *types.Event) {
	lotID, ok := attrUint(payload, "lotId")
	if !ok {
		return
	}
	index, ok := attrUint(payload, "bidIndex")
	if !ok {
		return
	}
	bidder, err := crypto.DecodeAddress(payload.Attributes["bidder"])
	if err != nil {
		r.logger.Warn("malformed bidder attribute", "lotId", lotID, "err", err)
		return
	}
	var addr [20]byte
	copy(addr[:], bidder.Bytes())

	r.mu.Lock()
	defer r.mu.Unlock()
	byIndex, ok := r.bidders[lotID]
	if !ok {
		byIndex = make(map[uint64][20]byte)
		r.bidders[lotID] = byIndex
	}
	byIndex[index] = addr
}

func (r *Revealer) settle(payload *types.Event) {
	lotID, ok := attrUint(payload, "lotId")
	if !ok {
		return
	}
	job := uuid.NewString()
	logger := r.logger.With("job", job, "lotId", lotID)

	lot, err := r.engine.GetLot(lotID)
	if err != nil {
		logger.Error("lot lookup failed", "err", err)
		return
	}
	if lot.BidCount == 0 {
		// Nothing to decrypt; the lot stays closed and unsettled.
		logger.Warn("reveal requested for lot without bids")
		return
	}

	index, err := r.crypt.Decrypt(lot.EncryptedWinningIndex, r.operator)
	if err != nil {
		logger.Error("winning index decryption failed", "err", err)
		return
	}
	amount, err := r.crypt.Decrypt(lot.EncryptedWinningBid, r.operator)
	if err != nil {
		logger.Error("winning bid decryption failed", "err", err)
		return
	}

	r.mu.Lock()
	bidder, ok := r.bidders[lotID][index]
	r.mu.Unlock()
	if !ok {
		// The event-derived map is lost on restart; the engine's registry
		// holds the same public mapping.
		recorded, found, err := r.engine.BidderAt(lotID, index)
		if err != nil || !found {
			logger.Error("no bidder recorded at winning index", "winningIndex", index, "err", err)
			return
		}
		bidder = recorded
	}

	if err := r.engine.SettleReveal(lotID, r.operator, index, amount, bidder); err != nil {
		logger.Error("settlement rejected", "err", err)
		return
	}
	logger.Info("lot settled", "winningIndex", index, "amount", amount)
}

func attrUint(payload *types.Event, key string) (uint64, bool) {
	raw, ok := payload.Attributes[key]
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

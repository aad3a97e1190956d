package auction

import (
	"errors"
	"time"

	"sealedbid/core/events"
	"sealedbid/core/types"
	"sealedbid/fhe"
)

var (
	errNilState = errors.New("auction engine: state not configured")
	errNilFHE   = errors.New("auction engine: encrypted-value engine not configured")
)

// engineState is the persistence surface the engine requires. core/state
// implements it over the service's keyed store; registries live for the
// service lifetime and nothing is ever deleted. All writes go through a
// StateTxn so each operation lands atomically.
type engineState interface {
	AuctionGetLot(id uint64) (*Lot, bool, error)
	AuctionLotIDs() ([]uint64, error)
	AuctionGetBid(lotID uint64, bidder [20]byte) (*BidEnvelope, bool, error)
	AuctionSaltUsed(lotID uint64, salt [32]byte) (bool, error)
	AuctionBidderAt(lotID, index uint64) ([20]byte, bool, error)
	AuctionParticipants(lotID uint64) ([][20]byte, error)
	AuctionGatewayOperator() ([20]byte, bool, error)
	AuctionBegin() StateTxn
}

// StateTxn stages the registry writes of one engine operation. Nothing is
// persisted until Commit; abandoning the transaction discards every staged
// write, so a failure part-way through an operation leaves no trace.
type StateTxn interface {
	NextLotID() (uint64, error)
	PutLot(*Lot) error
	PutBid(*BidEnvelope) error
	MarkSalt(lotID uint64, salt [32]byte) error
	SetBidder(lotID, index uint64, bidder [20]byte) error
	AppendParticipant(lotID uint64, bidder [20]byte) error
	SetGatewayOperator(op [20]byte) error
	Commit() error
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine wires the sealed-bid auction logic with external state, the
// encrypted-value subsystem, and event emission. All mutating operations run
// to completion within a single invocation; the only multi-step protocol is
// the CloseLot -> gateway -> SettleReveal reveal handshake.
type Engine struct {
	state   engineState
	emitter events.Emitter
	crypt   fhe.Engine
	nowFn   func() int64
	owner   [20]byte
	self    [20]byte
}

// NewEngine creates an auction engine with a no-op emitter. Callers wire the
// state backend and encrypted-value engine before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFHE configures the encrypted-value engine.
func (e *Engine) SetFHE(crypt fhe.Engine) { e.crypt = crypt }

// SetOwner configures the identity allowed to rotate the gateway operator.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// SetSelf configures the contract's own identity. Decrypt grants on every
// ciphertext the engine manages always include this identity.
func (e *Engine) SetSelf(self [20]byte) { e.self = self }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.crypt == nil {
		return errNilFHE
	}
	return nil
}

// gateway returns the configured gateway operator, if any. The zero address
// means no operator is configured.
func (e *Engine) gateway() ([20]byte, bool, error) {
	op, ok, err := e.state.AuctionGatewayOperator()
	if err != nil {
		return [20]byte{}, false, err
	}
	if !ok || op == ([20]byte{}) {
		return [20]byte{}, false, nil
	}
	return op, true, nil
}

// allowAll grants decrypt access on the handle to each identity. Grants bind
// to the specific handle, so this must be repeated every time a logical slot
// is rebound to a fresh ciphertext.
func (e *Engine) allowAll(h fhe.Handle, identities ...[20]byte) error {
	for _, id := range identities {
		if id == ([20]byte{}) {
			continue
		}
		if err := e.crypt.Allow(h, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateLot registers a new auction lot owned by the curator. The encrypted
// reserve is imported through proof verification before any state is touched,
// so a rejected call consumes no lot id.
func (e *Engine) CreateLot(curator [20]byte, metadataURI string, startTime, endTime int64, encryptedReserve, reserveProof []byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	now := e.now()
	if endTime <= startTime || endTime <= now {
		return 0, ErrInvalidWindow
	}

	reserve, err := e.crypt.ImportExternal(encryptedReserve, reserveProof, e.self, curator)
	if err != nil {
		return 0, err
	}

	txn := e.state.AuctionBegin()
	id, err := txn.NextLotID()
	if err != nil {
		return 0, err
	}

	winningBid, err := e.crypt.EncodeConstant(0)
	if err != nil {
		return 0, err
	}
	winningIndex, err := e.crypt.EncodeConstant(0)
	if err != nil {
		return 0, err
	}

	gateway, _, err := e.gateway()
	if err != nil {
		return 0, err
	}
	for _, h := range []fhe.Handle{reserve, winningBid, winningIndex} {
		if err := e.allowAll(h, e.self, curator, gateway); err != nil {
			return 0, err
		}
	}

	lot := &Lot{
		ID:                    id,
		Curator:               curator,
		StartTime:             startTime,
		EndTime:               endTime,
		MetadataURI:           metadataURI,
		CreatedAt:             now,
		EncryptedReserve:      reserve,
		EncryptedWinningBid:   winningBid,
		EncryptedWinningIndex: winningIndex,
	}
	if err := txn.PutLot(lot); err != nil {
		return 0, err
	}
	if err := txn.Commit(); err != nil {
		return 0, err
	}

	e.emit(NewLotCreatedEvent(lot))
	return id, nil
}

// SubmitBid records the bidder's sealed commitment and folds it into the
// encrypted leaderboard. The running maximum is maintained obliviously: the
// comparison result stays encrypted and the conditional update goes through
// Select, so no branch reveals which operand won. Ties keep the earlier bid
// because the comparison is strict.
func (e *Engine) SubmitBid(lotID uint64, bidder [20]byte, encryptedBid, inputProof []byte, saltHash [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	lot, ok, err := e.state.AuctionGetLot(lotID)
	if err != nil {
		return err
	}
	if !ok || !lot.Exists() {
		return ErrLotNotFound
	}
	if saltHash == ([32]byte{}) {
		return ErrEmptySalt
	}
	if lot.Closed {
		return ErrAuctionClosed
	}
	now := e.now()
	if now < lot.StartTime || now > lot.EndTime {
		return ErrOutsideBiddingWindow
	}
	used, err := e.state.AuctionSaltUsed(lotID, saltHash)
	if err != nil {
		return err
	}
	if used {
		return ErrSaltAlreadyUsed
	}
	if _, exists, err := e.state.AuctionGetBid(lotID, bidder); err != nil {
		return err
	} else if exists {
		return ErrBidAlreadySubmitted
	}

	amount, err := e.crypt.ImportExternal(encryptedBid, inputProof, e.self, bidder)
	if err != nil {
		return err
	}
	gateway, _, err := e.gateway()
	if err != nil {
		return err
	}
	if err := e.allowAll(amount, e.self, bidder, gateway); err != nil {
		return err
	}

	index := lot.BidCount
	lot.BidCount++

	txn := e.state.AuctionBegin()
	envelope := &BidEnvelope{
		LotID:       lotID,
		Bidder:      bidder,
		Amount:      amount,
		SaltHash:    saltHash,
		SubmittedAt: now,
		Index:       index,
	}
	if err := txn.PutBid(envelope); err != nil {
		return err
	}
	if err := txn.MarkSalt(lotID, saltHash); err != nil {
		return err
	}
	if err := txn.SetBidder(lotID, index, bidder); err != nil {
		return err
	}
	if err := txn.AppendParticipant(lotID, bidder); err != nil {
		return err
	}

	encodedIndex, err := e.crypt.EncodeConstant(index)
	if err != nil {
		return err
	}
	if index == 0 {
		lot.EncryptedWinningBid = amount
		lot.EncryptedWinningIndex = encodedIndex
	} else {
		isHigher, err := e.crypt.GreaterThan(amount, lot.EncryptedWinningBid)
		if err != nil {
			return err
		}
		newBid, err := e.crypt.Select(isHigher, amount, lot.EncryptedWinningBid)
		if err != nil {
			return err
		}
		newIndex, err := e.crypt.Select(isHigher, encodedIndex, lot.EncryptedWinningIndex)
		if err != nil {
			return err
		}
		lot.EncryptedWinningBid = newBid
		lot.EncryptedWinningIndex = newIndex
	}

	// The leaderboard slots now hold fresh handles; re-grant every party.
	for _, h := range []fhe.Handle{lot.EncryptedWinningBid, lot.EncryptedWinningIndex} {
		if err := e.allowAll(h, e.self, lot.Curator, gateway); err != nil {
			return err
		}
	}

	if err := txn.PutLot(lot); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	e.emit(NewBidSubmittedEvent(lotID, bidder, index, saltHash))
	return nil
}

// CloseLot transitions the lot out of the bidding phase and requests the
// reveal in one step. Every participant's envelope is sealed; the
// RevealRequested event is the trigger the off-chain gateway watches for.
func (e *Engine) CloseLot(lotID uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	lot, ok, err := e.state.AuctionGetLot(lotID)
	if err != nil {
		return err
	}
	if !ok || !lot.Exists() {
		return ErrLotNotFound
	}
	if caller != lot.Curator {
		return ErrNotCurator
	}
	if lot.Closed {
		return ErrAuctionClosed
	}
	gateway, configured, err := e.gateway()
	if err != nil {
		return err
	}
	if !configured {
		return ErrGatewayNotConfigured
	}
	if lot.RevealRequested {
		return ErrRevealAlreadyRequested
	}

	lot.Closed = true
	lot.RevealRequested = true

	txn := e.state.AuctionBegin()
	participants, err := e.state.AuctionParticipants(lotID)
	if err != nil {
		return err
	}
	for _, bidder := range participants {
		envelope, ok, err := e.state.AuctionGetBid(lotID, bidder)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		envelope.IsSealed = true
		if err := txn.PutBid(envelope); err != nil {
			return err
		}
	}

	if err := txn.PutLot(lot); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	e.emit(NewLotClosedEvent(lot))
	e.emit(NewRevealRequestedEvent(lotID, gateway))
	return nil
}

// SettleReveal accepts the gateway's decrypted result and finalizes the lot.
// An asserted winner that does not match the bidder recorded at the winning
// index is rejected as ErrUnauthorizedGateway: a gateway asserting an
// inconsistent result is indistinguishable from an unauthorized caller.
func (e *Engine) SettleReveal(lotID uint64, caller [20]byte, winningIndex uint64, clearWinningBid uint64, bidder [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	lot, ok, err := e.state.AuctionGetLot(lotID)
	if err != nil {
		return err
	}
	if !ok || !lot.Exists() {
		return ErrLotNotFound
	}
	gateway, configured, err := e.gateway()
	if err != nil {
		return err
	}
	if !configured || caller != gateway {
		return ErrUnauthorizedGateway
	}
	if !lot.Closed {
		return ErrAuctionNotClosed
	}
	if lot.Settled {
		return ErrAlreadySettled
	}
	if !lot.RevealRequested {
		return ErrRevealNotRequested
	}
	recorded, ok, err := e.state.AuctionBidderAt(lotID, winningIndex)
	if err != nil {
		return err
	}
	if !ok || recorded == ([20]byte{}) || recorded != bidder {
		return ErrUnauthorizedGateway
	}

	lot.Winner = bidder
	lot.RevealedAmount = clearWinningBid
	lot.Settled = true
	txn := e.state.AuctionBegin()
	if err := txn.PutLot(lot); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	e.emit(NewRevealSettledEvent(lot))
	return nil
}

// UpdateGatewayOperator rotates the identity authorized to settle reveals and
// re-grants decrypt access on every existing lot's encrypted fields. The sweep
// is O(number of lots), acceptable at expected lot cardinality.
func (e *Engine) UpdateGatewayOperator(caller, newOperator [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return ErrNotOwner
	}
	txn := e.state.AuctionBegin()
	if err := txn.SetGatewayOperator(newOperator); err != nil {
		return err
	}
	if newOperator != ([20]byte{}) {
		ids, err := e.state.AuctionLotIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			lot, ok, err := e.state.AuctionGetLot(id)
			if err != nil {
				return err
			}
			if !ok || !lot.Exists() {
				continue
			}
			for _, h := range []fhe.Handle{lot.EncryptedReserve, lot.EncryptedWinningBid, lot.EncryptedWinningIndex} {
				if err := e.crypt.Allow(h, newOperator); err != nil {
					return err
				}
			}
		}
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	e.emit(NewGatewayOperatorUpdatedEvent(newOperator))
	return nil
}

// GetLot returns a snapshot of the lot. Encrypted fields stay opaque handles.
func (e *Engine) GetLot(lotID uint64) (*Lot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lot, ok, err := e.state.AuctionGetLot(lotID)
	if err != nil {
		return nil, err
	}
	if !ok || !lot.Exists() {
		return nil, ErrLotNotFound
	}
	return lot.Clone(), nil
}

// GetBid returns the bidder's envelope. Only the bidder, the lot's curator,
// or the owner may read it; anyone else is rejected even for the opaque
// ciphertext handle.
func (e *Engine) GetBid(lotID uint64, bidder, caller [20]byte) (*BidEnvelope, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lot, ok, err := e.state.AuctionGetLot(lotID)
	if err != nil {
		return nil, err
	}
	if !ok || !lot.Exists() {
		return nil, ErrLotNotFound
	}
	if caller != bidder && caller != lot.Curator && caller != e.owner {
		return nil, ErrNotCurator
	}
	envelope, ok, err := e.state.AuctionGetBid(lotID, bidder)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBidNotFound
	}
	return envelope.Clone(), nil
}

// BidderAt resolves the bidder recorded at a lot's bid index. The mapping is
// public: every BidSubmitted event already carries it.
func (e *Engine) BidderAt(lotID, index uint64) ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	return e.state.AuctionBidderAt(lotID, index)
}

// ListLotIDs returns every lot id ever created, in creation order.
func (e *Engine) ListLotIDs() ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.AuctionLotIDs()
}

// GatewayOperator reports the currently configured gateway operator.
func (e *Engine) GatewayOperator() ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, errNilState
	}
	return e.gateway()
}

// Package state persists the auction contract's registries on a key-value
// store. Keys are keccak256-hashed, values RLP-encoded. The registries are
// append-only for the service lifetime; there is no deletion path.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"sealedbid/fhe"
	"sealedbid/native/auction"
	"sealedbid/storage"
)

var (
	lotSeqKey     = ethcrypto.Keccak256([]byte("auction/lot-seq"))
	lotListKey    = ethcrypto.Keccak256([]byte("auction/lot-list"))
	gatewayKey    = ethcrypto.Keccak256([]byte("auction/gateway-operator"))
	lotPrefix     = []byte("auction/lot:")
	bidPrefix     = []byte("auction/bid:")
	saltPrefix    = []byte("auction/salt:")
	bidderPrefix  = []byte("auction/bidder:")
	membersPrefix = []byte("auction/participants:")
)

// Manager provides the auction engine's persistence surface over a
// storage.Database.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func u64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func lotKey(id uint64) []byte {
	return ethcrypto.Keccak256(lotPrefix, u64Bytes(id))
}

func bidKey(id uint64, bidder [20]byte) []byte {
	return ethcrypto.Keccak256(bidPrefix, u64Bytes(id), bidder[:])
}

func saltKey(id uint64, salt [32]byte) []byte {
	return ethcrypto.Keccak256(saltPrefix, u64Bytes(id), salt[:])
}

func bidderKey(id, index uint64) []byte {
	return ethcrypto.Keccak256(bidderPrefix, u64Bytes(id), u64Bytes(index))
}

func participantsKey(id uint64) []byte {
	return ethcrypto.Keccak256(membersPrefix, u64Bytes(id))
}

// kvGet decodes the value stored under the key into out, reporting whether a
// value was present.
func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errors.New("state: database not configured")
	}
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// RLP has no signed integers, so stored records carry timestamps as uint64.
type storedLot struct {
	ID              uint64
	Curator         []byte
	StartTime       uint64
	EndTime         uint64
	MetadataURI     string
	CreatedAt       uint64
	Closed          bool
	RevealRequested bool
	Settled         bool
	BidCount        uint64
	Reserve         []byte
	WinningBid      []byte
	WinningIndex    []byte
	Winner          []byte
	RevealedAmount  uint64
}

type storedBid struct {
	LotID       uint64
	Bidder      []byte
	Amount      []byte
	SaltHash    []byte
	SubmittedAt uint64
	Index       uint64
	IsSealed    bool
}

func toStoredLot(l *auction.Lot) *storedLot {
	return &storedLot{
		ID:              l.ID,
		Curator:         append([]byte(nil), l.Curator[:]...),
		StartTime:       uint64(l.StartTime),
		EndTime:         uint64(l.EndTime),
		MetadataURI:     l.MetadataURI,
		CreatedAt:       uint64(l.CreatedAt),
		Closed:          l.Closed,
		RevealRequested: l.RevealRequested,
		Settled:         l.Settled,
		BidCount:        l.BidCount,
		Reserve:         l.EncryptedReserve.Bytes(),
		WinningBid:      l.EncryptedWinningBid.Bytes(),
		WinningIndex:    l.EncryptedWinningIndex.Bytes(),
		Winner:          append([]byte(nil), l.Winner[:]...),
		RevealedAmount:  l.RevealedAmount,
	}
}

func fromStoredLot(s *storedLot) (*auction.Lot, error) {
	if len(s.Curator) != 20 || len(s.Winner) != 20 {
		return nil, fmt.Errorf("state: malformed lot record")
	}
	lot := &auction.Lot{
		ID:                    s.ID,
		StartTime:             int64(s.StartTime),
		EndTime:               int64(s.EndTime),
		MetadataURI:           s.MetadataURI,
		CreatedAt:             int64(s.CreatedAt),
		Closed:                s.Closed,
		RevealRequested:       s.RevealRequested,
		Settled:               s.Settled,
		BidCount:              s.BidCount,
		EncryptedReserve:      fhe.HandleFromBytes(s.Reserve),
		EncryptedWinningBid:   fhe.HandleFromBytes(s.WinningBid),
		EncryptedWinningIndex: fhe.HandleFromBytes(s.WinningIndex),
		RevealedAmount:        s.RevealedAmount,
	}
	copy(lot.Curator[:], s.Curator)
	copy(lot.Winner[:], s.Winner)
	return lot, nil
}

// AuctionBegin starts a staged write group over the store. The returned
// transaction buffers writes in a storage batch; Commit applies them in one
// atomic write.
func (m *Manager) AuctionBegin() auction.StateTxn {
	return &Txn{m: m, batch: m.db.NewBatch()}
}

// AuctionGetLot loads the lot by id.
func (m *Manager) AuctionGetLot(id uint64) (*auction.Lot, bool, error) {
	stored := new(storedLot)
	ok, err := m.kvGet(lotKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	lot, err := fromStoredLot(stored)
	if err != nil {
		return nil, false, err
	}
	return lot, true, nil
}

// AuctionLotIDs returns every lot id ever created, in creation order.
func (m *Manager) AuctionLotIDs() ([]uint64, error) {
	var ids []uint64
	if _, err := m.kvGet(lotListKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// AuctionGetBid loads the envelope for the (lot, bidder) pair.
func (m *Manager) AuctionGetBid(lotID uint64, bidder [20]byte) (*auction.BidEnvelope, bool, error) {
	stored := new(storedBid)
	ok, err := m.kvGet(bidKey(lotID, bidder), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(stored.Bidder) != 20 || len(stored.SaltHash) != 32 {
		return nil, false, fmt.Errorf("state: malformed bid record")
	}
	envelope := &auction.BidEnvelope{
		LotID:       stored.LotID,
		Amount:      fhe.HandleFromBytes(stored.Amount),
		SubmittedAt: int64(stored.SubmittedAt),
		Index:       stored.Index,
		IsSealed:    stored.IsSealed,
	}
	copy(envelope.Bidder[:], stored.Bidder)
	copy(envelope.SaltHash[:], stored.SaltHash)
	return envelope, true, nil
}

// AuctionSaltUsed reports whether the salt hash was already consumed within
// the lot.
func (m *Manager) AuctionSaltUsed(lotID uint64, salt [32]byte) (bool, error) {
	var used bool
	ok, err := m.kvGet(saltKey(lotID, salt), &used)
	if err != nil {
		return false, err
	}
	return ok && used, nil
}

// AuctionBidderAt resolves the bidder identity recorded at the bid index.
func (m *Manager) AuctionBidderAt(lotID, index uint64) ([20]byte, bool, error) {
	var raw []byte
	ok, err := m.kvGet(bidderKey(lotID, index), &raw)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, fmt.Errorf("state: malformed bidder record")
	}
	var bidder [20]byte
	copy(bidder[:], raw)
	return bidder, true, nil
}

// AuctionParticipants returns the lot's participants in submission order.
func (m *Manager) AuctionParticipants(lotID uint64) ([][20]byte, error) {
	var members [][]byte
	if _, err := m.kvGet(participantsKey(lotID), &members); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(members))
	for _, raw := range members {
		if len(raw) != 20 {
			return nil, fmt.Errorf("state: malformed participant record")
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}

// AuctionGatewayOperator loads the configured gateway operator, if any.
func (m *Manager) AuctionGatewayOperator() ([20]byte, bool, error) {
	var raw []byte
	ok, err := m.kvGet(gatewayKey, &raw)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, fmt.Errorf("state: malformed gateway record")
	}
	var op [20]byte
	copy(op[:], raw)
	if op == ([20]byte{}) {
		return [20]byte{}, false, nil
	}
	return op, true, nil
}

// Txn stages one engine operation's registry writes into a storage batch.
// Reads performed while staging go against the committed store; an engine
// operation never needs to read back its own staged writes.
type Txn struct {
	m     *Manager
	batch storage.Batch
}

func (t *Txn) put(key []byte, value interface{}) error {
	if t == nil || t.m == nil || t.m.db == nil {
		return errors.New("state: database not configured")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	t.batch.Put(key, encoded)
	return nil
}

// NextLotID allocates the next monotonic lot id, starting at 1. The advanced
// sequence is staged with the rest of the transaction, so an abandoned
// allocation consumes no id.
func (t *Txn) NextLotID() (uint64, error) {
	var last uint64
	if _, err := t.m.kvGet(lotSeqKey, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := t.put(lotSeqKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// PutLot stages the lot. First-time writes also stage the id into the ordered
// lot index.
func (t *Txn) PutLot(lot *auction.Lot) error {
	if lot == nil {
		return fmt.Errorf("state: nil lot")
	}
	key := lotKey(lot.ID)
	existing, err := t.m.db.Has(key)
	if err != nil {
		return err
	}
	if err := t.put(key, toStoredLot(lot)); err != nil {
		return err
	}
	if !existing {
		ids, err := t.m.AuctionLotIDs()
		if err != nil {
			return err
		}
		ids = append(ids, lot.ID)
		if err := t.put(lotListKey, ids); err != nil {
			return err
		}
	}
	return nil
}

// PutBid stages the bid envelope.
func (t *Txn) PutBid(b *auction.BidEnvelope) error {
	if b == nil {
		return fmt.Errorf("state: nil bid envelope")
	}
	stored := &storedBid{
		LotID:       b.LotID,
		Bidder:      append([]byte(nil), b.Bidder[:]...),
		Amount:      b.Amount.Bytes(),
		SaltHash:    append([]byte(nil), b.SaltHash[:]...),
		SubmittedAt: uint64(b.SubmittedAt),
		Index:       b.Index,
		IsSealed:    b.IsSealed,
	}
	return t.put(bidKey(b.LotID, b.Bidder), stored)
}

// MarkSalt stages the salt hash as consumed within the lot.
func (t *Txn) MarkSalt(lotID uint64, salt [32]byte) error {
	return t.put(saltKey(lotID, salt), true)
}

// SetBidder stages the bidder identity at the given bid index.
func (t *Txn) SetBidder(lotID, index uint64, bidder [20]byte) error {
	return t.put(bidderKey(lotID, index), bidder[:])
}

// AppendParticipant stages the bidder onto the lot's ordered participant list.
func (t *Txn) AppendParticipant(lotID uint64, bidder [20]byte) error {
	var members [][]byte
	if _, err := t.m.kvGet(participantsKey(lotID), &members); err != nil {
		return err
	}
	members = append(members, append([]byte(nil), bidder[:]...))
	return t.put(participantsKey(lotID), members)
}

// SetGatewayOperator stages the gateway operator identity. The zero address
// clears the configuration.
func (t *Txn) SetGatewayOperator(op [20]byte) error {
	return t.put(gatewayKey, op[:])
}

// Commit applies every staged write in a single atomic batch.
func (t *Txn) Commit() error {
	return t.m.db.Write(t.batch)
}

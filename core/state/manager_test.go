package state

import (
	"testing"

	"sealedbid/fhe"
	"sealedbid/native/auction"
	"sealedbid/storage"
)

func testAddr(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

func testHandle(last byte) fhe.Handle {
	var out fhe.Handle
	out[31] = last
	return out
}

func mustCommit(t *testing.T, txn auction.StateTxn) {
	t.Helper()
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestNextLotIDStartsAtOneAndPersists(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)

	txn := manager.AuctionBegin()
	first, err := txn.NextLotID()
	if err != nil {
		t.Fatalf("first allocation failed: %v", err)
	}
	if first != 1 {
		t.Fatalf("ids must start at 1, got %d", first)
	}
	mustCommit(t, txn)

	txn = manager.AuctionBegin()
	second, err := txn.NextLotID()
	if err != nil {
		t.Fatalf("second allocation failed: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected 2, got %d", second)
	}
	mustCommit(t, txn)

	reopened := NewManager(db)
	txn = reopened.AuctionBegin()
	third, err := txn.NextLotID()
	if err != nil {
		t.Fatalf("allocation after reopen failed: %v", err)
	}
	if third != 3 {
		t.Fatalf("sequence did not survive reopen: got %d", third)
	}
}

func TestAbandonedTxnConsumesNoLotID(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	abandoned := manager.AuctionBegin()
	if id, err := abandoned.NextLotID(); err != nil || id != 1 {
		t.Fatalf("allocation failed: id=%d err=%v", id, err)
	}
	// Never committed: the next transaction sees an untouched sequence.

	txn := manager.AuctionBegin()
	id, err := txn.NextLotID()
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("abandoned allocation leaked into the sequence: got %d", id)
	}
}

func TestLotRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	lot := &auction.Lot{
		ID:                    7,
		Curator:               testAddr(0x01),
		StartTime:             1_000,
		EndTime:               2_000,
		MetadataURI:           "ipfs://metadata",
		CreatedAt:             900,
		Closed:                true,
		RevealRequested:       true,
		BidCount:              3,
		EncryptedReserve:      testHandle(0x0A),
		EncryptedWinningBid:   testHandle(0x0B),
		EncryptedWinningIndex: testHandle(0x0C),
		Winner:                testAddr(0x02),
		RevealedAmount:        5_000,
	}
	txn := manager.AuctionBegin()
	if err := txn.PutLot(lot); err != nil {
		t.Fatalf("put lot failed: %v", err)
	}
	mustCommit(t, txn)

	loaded, ok, err := manager.AuctionGetLot(7)
	if err != nil || !ok {
		t.Fatalf("get lot failed: ok=%v err=%v", ok, err)
	}
	if *loaded != *lot {
		t.Fatalf("lot round trip mismatch:\n put %+v\n got %+v", lot, loaded)
	}

	if _, ok, err := manager.AuctionGetLot(99); err != nil || ok {
		t.Fatalf("missing lot should report absent: ok=%v err=%v", ok, err)
	}
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	salt := [32]byte{0xAA}

	txn := manager.AuctionBegin()
	if err := txn.PutLot(&auction.Lot{ID: 1, Curator: testAddr(0x01), EndTime: 10}); err != nil {
		t.Fatalf("put lot failed: %v", err)
	}
	if err := txn.MarkSalt(1, salt); err != nil {
		t.Fatalf("mark salt failed: %v", err)
	}
	if err := txn.SetBidder(1, 0, testAddr(0x02)); err != nil {
		t.Fatalf("set bidder failed: %v", err)
	}

	if _, ok, err := manager.AuctionGetLot(1); err != nil || ok {
		t.Fatalf("staged lot leaked before commit: ok=%v err=%v", ok, err)
	}
	if used, err := manager.AuctionSaltUsed(1, salt); err != nil || used {
		t.Fatalf("staged salt leaked before commit: used=%v err=%v", used, err)
	}
	if _, ok, err := manager.AuctionBidderAt(1, 0); err != nil || ok {
		t.Fatalf("staged bidder leaked before commit: ok=%v err=%v", ok, err)
	}

	mustCommit(t, txn)

	if _, ok, err := manager.AuctionGetLot(1); err != nil || !ok {
		t.Fatalf("committed lot missing: ok=%v err=%v", ok, err)
	}
	if used, err := manager.AuctionSaltUsed(1, salt); err != nil || !used {
		t.Fatalf("committed salt missing: used=%v err=%v", used, err)
	}
	if got, ok, err := manager.AuctionBidderAt(1, 0); err != nil || !ok || got != testAddr(0x02) {
		t.Fatalf("committed bidder missing: got=%x ok=%v err=%v", got, ok, err)
	}
}

func TestLotListRecordsFirstWriteOnly(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	for _, id := range []uint64{1, 2} {
		txn := manager.AuctionBegin()
		lot := &auction.Lot{ID: id, Curator: testAddr(0x01), EndTime: 10}
		if err := txn.PutLot(lot); err != nil {
			t.Fatalf("put lot %d failed: %v", id, err)
		}
		mustCommit(t, txn)
	}
	txn := manager.AuctionBegin()
	update := &auction.Lot{ID: 1, Curator: testAddr(0x01), EndTime: 10, Closed: true}
	if err := txn.PutLot(update); err != nil {
		t.Fatalf("lot update failed: %v", err)
	}
	mustCommit(t, txn)

	ids, err := manager.AuctionLotIDs()
	if err != nil {
		t.Fatalf("listing failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected lot listing: %v", ids)
	}
}

func TestBidRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	envelope := &auction.BidEnvelope{
		LotID:       3,
		Bidder:      testAddr(0x05),
		Amount:      testHandle(0x0D),
		SaltHash:    [32]byte{0x01, 0x02},
		SubmittedAt: 1_500,
		Index:       2,
		IsSealed:    true,
	}
	txn := manager.AuctionBegin()
	if err := txn.PutBid(envelope); err != nil {
		t.Fatalf("put bid failed: %v", err)
	}
	mustCommit(t, txn)

	loaded, ok, err := manager.AuctionGetBid(3, testAddr(0x05))
	if err != nil || !ok {
		t.Fatalf("get bid failed: ok=%v err=%v", ok, err)
	}
	if *loaded != *envelope {
		t.Fatalf("bid round trip mismatch:\n put %+v\n got %+v", envelope, loaded)
	}

	if _, ok, err := manager.AuctionGetBid(3, testAddr(0x06)); err != nil || ok {
		t.Fatalf("missing bid should report absent: ok=%v err=%v", ok, err)
	}
}

func TestSaltsScopedByLot(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	salt := [32]byte{0xAA}

	txn := manager.AuctionBegin()
	if err := txn.MarkSalt(1, salt); err != nil {
		t.Fatalf("mark salt failed: %v", err)
	}
	mustCommit(t, txn)

	used, err := manager.AuctionSaltUsed(1, salt)
	if err != nil || !used {
		t.Fatalf("salt should be used in lot 1: used=%v err=%v", used, err)
	}
	used, err = manager.AuctionSaltUsed(2, salt)
	if err != nil || used {
		t.Fatalf("salt must not leak across lots: used=%v err=%v", used, err)
	}
}

func TestBidderIndexAndParticipants(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	bidders := [][20]byte{testAddr(0x01), testAddr(0x02), testAddr(0x03)}

	for i, bidder := range bidders {
		txn := manager.AuctionBegin()
		if err := txn.SetBidder(5, uint64(i), bidder); err != nil {
			t.Fatalf("set bidder failed: %v", err)
		}
		if err := txn.AppendParticipant(5, bidder); err != nil {
			t.Fatalf("append participant failed: %v", err)
		}
		mustCommit(t, txn)
	}

	for i, want := range bidders {
		got, ok, err := manager.AuctionBidderAt(5, uint64(i))
		if err != nil || !ok {
			t.Fatalf("bidder lookup %d failed: ok=%v err=%v", i, ok, err)
		}
		if got != want {
			t.Fatalf("index %d resolved wrong bidder", i)
		}
	}
	if _, ok, err := manager.AuctionBidderAt(5, 9); err != nil || ok {
		t.Fatalf("unknown index should report absent: ok=%v err=%v", ok, err)
	}

	members, err := manager.AuctionParticipants(5)
	if err != nil {
		t.Fatalf("participants failed: %v", err)
	}
	if len(members) != len(bidders) {
		t.Fatalf("expected %d participants, got %d", len(bidders), len(members))
	}
	for i := range bidders {
		if members[i] != bidders[i] {
			t.Fatalf("participant order broken at %d", i)
		}
	}
}

func TestGatewayOperatorZeroMeansUnconfigured(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	if _, ok, err := manager.AuctionGatewayOperator(); err != nil || ok {
		t.Fatalf("fresh store should have no operator: ok=%v err=%v", ok, err)
	}

	op := testAddr(0x07)
	txn := manager.AuctionBegin()
	if err := txn.SetGatewayOperator(op); err != nil {
		t.Fatalf("set operator failed: %v", err)
	}
	mustCommit(t, txn)

	got, ok, err := manager.AuctionGatewayOperator()
	if err != nil || !ok || got != op {
		t.Fatalf("operator round trip failed: got=%x ok=%v err=%v", got, ok, err)
	}

	txn = manager.AuctionBegin()
	if err := txn.SetGatewayOperator([20]byte{}); err != nil {
		t.Fatalf("clearing operator failed: %v", err)
	}
	mustCommit(t, txn)

	if _, ok, err := manager.AuctionGatewayOperator(); err != nil || ok {
		t.Fatalf("zero address should clear configuration: ok=%v err=%v", ok, err)
	}
}

package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"sealedbid/core/state"
	"sealedbid/crypto"
	"sealedbid/fhe"
	"sealedbid/native/auction"
	"sealedbid/storage"
)

type rpcFixture struct {
	server  *Server
	engine  *auction.Engine
	crypt   *fhe.LocalEngine
	self    [20]byte
	owner   [20]byte
	gateway [20]byte
	now     int64
}

func newRPCFixture(t *testing.T) *rpcFixture {
	t.Helper()
	f := &rpcFixture{
		crypt:   fhe.NewLocalEngine(),
		self:    fixtureAddr(0xF0),
		owner:   fixtureAddr(0xF1),
		gateway: fixtureAddr(0xF2),
		now:     1_000,
	}
	f.engine = auction.NewEngine()
	f.engine.SetState(state.NewManager(storage.NewMemDB()))
	f.engine.SetFHE(f.crypt)
	f.engine.SetOwner(f.owner)
	f.engine.SetSelf(f.self)
	f.engine.SetNowFunc(func() int64 { return f.now })
	if err := f.engine.UpdateGatewayOperator(f.owner, f.gateway); err != nil {
		t.Fatalf("gateway setup failed: %v", err)
	}
	f.server = NewServer(f.engine)
	return f
}

func fixtureAddr(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

func bech32Of(addr [20]byte) string {
	return crypto.NewAddress(crypto.BidPrefix, append([]byte(nil), addr[:]...)).String()
}

func (f *rpcFixture) call(t *testing.T, method string, params interface{}, headers map[string]string) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	encoded, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("params marshal failed: %v", err)
	}
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":[%s]}`, method, encoded)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)

	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response decode failed: %v (%s)", err, recorder.Body.String())
	}
	return recorder, resp
}

func (f *rpcFixture) createLot(t *testing.T, curator [20]byte, start, end int64, reserve uint64) uint64 {
	t.Helper()
	ciphertext, proof, err := f.crypt.Seal(reserve, f.self, curator)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	recorder, resp := f.call(t, "auction_createLot", map[string]interface{}{
		"caller":           bech32Of(curator),
		"metadataURI":      "ipfs://lot",
		"startTime":        start,
		"endTime":          end,
		"encryptedReserve": hex.EncodeToString(ciphertext),
		"reserveProof":     hex.EncodeToString(proof),
	}, nil)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("create lot failed: status=%d err=%+v", recorder.Code, resp.Error)
	}
	var result createLotResult
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("result decode failed: %v", err)
	}
	return result.LotID
}

func (f *rpcFixture) submitBid(t *testing.T, lotID uint64, bidder [20]byte, amount uint64, salt [32]byte) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	ciphertext, proof, err := f.crypt.Seal(amount, f.self, bidder)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	return f.call(t, "auction_submitBid", map[string]interface{}{
		"lotId":        lotID,
		"caller":       bech32Of(bidder),
		"encryptedBid": hex.EncodeToString(ciphertext),
		"inputProof":   hex.EncodeToString(proof),
		"saltHash":     hex.EncodeToString(salt[:]),
	}, nil)
}

func TestCreateLotAndGetLot(t *testing.T) {
	f := newRPCFixture(t)
	curator := fixtureAddr(0x01)

	lotID := f.createLot(t, curator, 900, 2_000, 500)
	if lotID != 1 {
		t.Fatalf("expected first lot id 1, got %d", lotID)
	}

	recorder, resp := f.call(t, "auction_getLot", lotIDParams{LotID: lotID}, nil)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("get lot failed: status=%d err=%+v", recorder.Code, resp.Error)
	}
	var lot lotJSON
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &lot); err != nil {
		t.Fatalf("lot decode failed: %v", err)
	}
	if lot.ID != lotID || lot.Curator != bech32Of(curator) || lot.Closed || lot.Winner != "" {
		t.Fatalf("unexpected lot payload: %+v", lot)
	}
	if lot.EncryptedReserve == "" || lot.EncryptedWinningBid == "" {
		t.Fatal("encrypted fields must surface as opaque handles")
	}
}

func TestGetLotNotFound(t *testing.T) {
	f := newRPCFixture(t)
	recorder, resp := f.call(t, "auction_getLot", lotIDParams{LotID: 42}, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeAuctionNotFound {
		t.Fatalf("expected not_found error, got %+v", resp.Error)
	}
}

func TestSubmitBidLifecycleErrors(t *testing.T) {
	f := newRPCFixture(t)
	curator := fixtureAddr(0x01)
	bidder := fixtureAddr(0x02)
	lotID := f.createLot(t, curator, 900, 2_000, 500)

	salt := [32]byte{0x01}
	recorder, resp := f.submitBid(t, lotID, bidder, 2_000, salt)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("bid failed: status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = f.submitBid(t, lotID, fixtureAddr(0x03), 3_000, salt)
	if recorder.Code != http.StatusConflict || resp.Error == nil || resp.Error.Code != codeAuctionConflict {
		t.Fatalf("expected salt conflict, got status=%d err=%+v", recorder.Code, resp.Error)
	}

	f.now = 3_000
	recorder, resp = f.submitBid(t, lotID, fixtureAddr(0x04), 4_000, [32]byte{0x02})
	if recorder.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeAuctionInvalidParams {
		t.Fatalf("expected window rejection, got status=%d err=%+v", recorder.Code, resp.Error)
	}
}

func TestSubmitBidRejectsMalformedParams(t *testing.T) {
	f := newRPCFixture(t)
	recorder, resp := f.call(t, "auction_submitBid", map[string]interface{}{
		"lotId":        1,
		"caller":       "not-a-bech32-address",
		"encryptedBid": "00",
		"inputProof":   "00",
		"saltHash":     "00",
	}, nil)
	if recorder.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeAuctionInvalidParams {
		t.Fatalf("expected invalid params, got status=%d err=%+v", recorder.Code, resp.Error)
	}
}

func TestCloseAndSettleOverRPC(t *testing.T) {
	f := newRPCFixture(t)
	curator := fixtureAddr(0x01)
	winner := fixtureAddr(0x03)
	lotID := f.createLot(t, curator, 900, 2_000, 500)
	f.submitBid(t, lotID, fixtureAddr(0x02), 2_000, [32]byte{0x01})
	f.submitBid(t, lotID, winner, 3_000, [32]byte{0x02})

	recorder, resp := f.call(t, "auction_closeLot", map[string]interface{}{
		"lotId":  lotID,
		"caller": bech32Of(fixtureAddr(0x09)),
	}, nil)
	if recorder.Code != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeAuctionForbidden {
		t.Fatalf("expected curator gate, got status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = f.call(t, "auction_closeLot", map[string]interface{}{
		"lotId":  lotID,
		"caller": bech32Of(curator),
	}, nil)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("close failed: status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = f.call(t, "auction_settleReveal", map[string]interface{}{
		"lotId":        lotID,
		"caller":       bech32Of(f.gateway),
		"winningIndex": 1,
		"amount":       3_000,
		"bidder":       bech32Of(winner),
	}, nil)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("settle failed: status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = f.call(t, "auction_getLot", lotIDParams{LotID: lotID}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get lot failed: %d", recorder.Code)
	}
	var lot lotJSON
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &lot); err != nil {
		t.Fatalf("lot decode failed: %v", err)
	}
	if !lot.Settled || lot.Winner != bech32Of(winner) || lot.RevealedAmount != 3_000 {
		t.Fatalf("unexpected settled lot: %+v", lot)
	}
}

func TestGetBidAccess(t *testing.T) {
	f := newRPCFixture(t)
	curator := fixtureAddr(0x01)
	bidder := fixtureAddr(0x02)
	lotID := f.createLot(t, curator, 900, 2_000, 500)
	f.submitBid(t, lotID, bidder, 2_000, [32]byte{0x01})

	recorder, resp := f.call(t, "auction_getBid", getBidParams{
		LotID:  lotID,
		Bidder: bech32Of(bidder),
		Caller: bech32Of(bidder),
	}, nil)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("bidder read failed: status=%d err=%+v", recorder.Code, resp.Error)
	}
	var envelope bidJSON
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("bid decode failed: %v", err)
	}
	if envelope.Bidder != bech32Of(bidder) || envelope.Index != 0 || envelope.Amount == "" {
		t.Fatalf("unexpected bid payload: %+v", envelope)
	}

	recorder, resp = f.call(t, "auction_getBid", getBidParams{
		LotID:  lotID,
		Bidder: bech32Of(bidder),
		Caller: bech32Of(fixtureAddr(0x09)),
	}, nil)
	if recorder.Code != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeAuctionForbidden {
		t.Fatalf("expected stranger rejection, got status=%d err=%+v", recorder.Code, resp.Error)
	}
}

func TestListLots(t *testing.T) {
	f := newRPCFixture(t)
	recorder, resp := f.call(t, "auction_listLots", struct{}{}, nil)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("list failed: status=%d err=%+v", recorder.Code, resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		t.Fatalf("ids decode failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty listing, got %v", ids)
	}

	curator := fixtureAddr(0x01)
	f.createLot(t, curator, 900, 2_000, 500)
	f.createLot(t, curator, 900, 2_000, 700)

	_, resp = f.call(t, "auction_listLots", struct{}{}, nil)
	raw, _ = json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &ids); err != nil {
		t.Fatalf("ids decode failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected listing: %v", ids)
	}
}

func TestBearerTokenGatesMutations(t *testing.T) {
	t.Setenv("AUCTIOND_RPC_TOKEN", "secret-token")
	f := newRPCFixture(t)
	curator := fixtureAddr(0x01)

	ciphertext, proof, err := f.crypt.Seal(500, f.self, curator)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	params := map[string]interface{}{
		"caller":           bech32Of(curator),
		"metadataURI":      "",
		"startTime":        900,
		"endTime":          2_000,
		"encryptedReserve": hex.EncodeToString(ciphertext),
		"reserveProof":     hex.EncodeToString(proof),
	}

	recorder, resp := f.call(t, "auction_createLot", params, nil)
	if recorder.Code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected auth gate, got status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = f.call(t, "auction_createLot", params, map[string]string{"Authorization": "Bearer wrong"})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected bad token rejection, got %d", recorder.Code)
	}

	recorder, resp = f.call(t, "auction_createLot", params, map[string]string{"Authorization": "Bearer secret-token"})
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("authorized call failed: status=%d err=%+v", recorder.Code, resp.Error)
	}

	recorder, resp = f.call(t, "auction_getLot", lotIDParams{LotID: 1}, nil)
	if recorder.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("read methods must stay open: status=%d err=%+v", recorder.Code, resp.Error)
	}
}

func TestBidRateLimitPerSource(t *testing.T) {
	f := newRPCFixture(t)
	curator := fixtureAddr(0x01)
	lotID := f.createLot(t, curator, 900, 2_000, 500)

	for i := 0; i < maxBidsPerWindow; i++ {
		salt := [32]byte{byte(i + 1), 0x01}
		recorder, resp := f.submitBid(t, lotID, fixtureAddr(byte(i+1)), uint64(100+i), salt)
		if recorder.Code != http.StatusOK || resp.Error != nil {
			t.Fatalf("bid %d failed: status=%d err=%+v", i, recorder.Code, resp.Error)
		}
	}
	recorder, resp := f.submitBid(t, lotID, fixtureAddr(0xE0), 9_000, [32]byte{0xE0})
	if recorder.Code != http.StatusTooManyRequests || resp.Error == nil || resp.Error.Code != codeRateLimited {
		t.Fatalf("expected throttle, got status=%d err=%+v", recorder.Code, resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	f := newRPCFixture(t)
	recorder, resp := f.call(t, "auction_frobnicate", struct{}{}, nil)
	if recorder.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got status=%d err=%+v", recorder.Code, resp.Error)
	}
}

package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sealedbid/crypto"
	"sealedbid/fhe"
	"sealedbid/native/auction"
)

const (
	codeAuctionInvalidParams = -32051
	codeAuctionNotFound      = -32052
	codeAuctionForbidden     = -32053
	codeAuctionConflict      = -32054
	codeAuctionInternal      = -32055
)

type createLotParams struct {
	Caller           string `json:"caller"`
	MetadataURI      string `json:"metadataURI"`
	StartTime        int64  `json:"startTime"`
	EndTime          int64  `json:"endTime"`
	EncryptedReserve string `json:"encryptedReserve"`
	ReserveProof     string `json:"reserveProof"`
}

type createLotResult struct {
	LotID uint64 `json:"lotId"`
}

type submitBidParams struct {
	LotID        uint64 `json:"lotId"`
	Caller       string `json:"caller"`
	EncryptedBid string `json:"encryptedBid"`
	InputProof   string `json:"inputProof"`
	SaltHash     string `json:"saltHash"`
}

type lotActorParams struct {
	LotID  uint64 `json:"lotId"`
	Caller string `json:"caller"`
}

type settleRevealParams struct {
	LotID        uint64 `json:"lotId"`
	Caller       string `json:"caller"`
	WinningIndex uint64 `json:"winningIndex"`
	Amount       uint64 `json:"amount"`
	Bidder       string `json:"bidder"`
}

type updateGatewayParams struct {
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
}

type lotIDParams struct {
	LotID uint64 `json:"lotId"`
}

type getBidParams struct {
	LotID  uint64 `json:"lotId"`
	Bidder string `json:"bidder"`
	Caller string `json:"caller"`
}

type lotJSON struct {
	ID                    uint64 `json:"id"`
	Curator               string `json:"curator"`
	StartTime             int64  `json:"startTime"`
	EndTime               int64  `json:"endTime"`
	MetadataURI           string `json:"metadataURI"`
	CreatedAt             int64  `json:"createdAt"`
	Closed                bool   `json:"closed"`
	RevealRequested       bool   `json:"revealRequested"`
	Settled               bool   `json:"settled"`
	BidCount              uint64 `json:"bidCount"`
	EncryptedReserve      string `json:"encryptedReserve"`
	EncryptedWinningBid   string `json:"encryptedWinningBid"`
	EncryptedWinningIndex string `json:"encryptedWinningIndex"`
	Winner                string `json:"winner,omitempty"`
	RevealedAmount        uint64 `json:"revealedAmount"`
}

type bidJSON struct {
	LotID       uint64 `json:"lotId"`
	Bidder      string `json:"bidder"`
	Amount      string `json:"amount"`
	SaltHash    string `json:"saltHash"`
	SubmittedAt int64  `json:"submittedAt"`
	Index       uint64 `json:"index"`
	IsSealed    bool   `json:"isSealed"`
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseHexField(name, value string) ([]byte, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", name)
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex encoded: %w", name, err)
	}
	return decoded, nil
}

func parseSaltHash(value string) ([32]byte, error) {
	raw, err := parseHexField("saltHash", value)
	if err != nil {
		return [32]byte{}, err
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("saltHash must be 32 bytes")
	}
	var salt [32]byte
	copy(salt[:], raw)
	return salt, nil
}

func formatLotJSON(l *auction.Lot) lotJSON {
	out := lotJSON{
		ID:                    l.ID,
		Curator:               crypto.NewAddress(crypto.BidPrefix, append([]byte(nil), l.Curator[:]...)).String(),
		StartTime:             l.StartTime,
		EndTime:               l.EndTime,
		MetadataURI:           l.MetadataURI,
		CreatedAt:             l.CreatedAt,
		Closed:                l.Closed,
		RevealRequested:       l.RevealRequested,
		Settled:               l.Settled,
		BidCount:              l.BidCount,
		EncryptedReserve:      l.EncryptedReserve.Hex(),
		EncryptedWinningBid:   l.EncryptedWinningBid.Hex(),
		EncryptedWinningIndex: l.EncryptedWinningIndex.Hex(),
		RevealedAmount:        l.RevealedAmount,
	}
	if l.Winner != ([20]byte{}) {
		out.Winner = crypto.NewAddress(crypto.BidPrefix, append([]byte(nil), l.Winner[:]...)).String()
	}
	return out
}

func formatBidJSON(b *auction.BidEnvelope) bidJSON {
	return bidJSON{
		LotID:       b.LotID,
		Bidder:      crypto.NewAddress(crypto.BidPrefix, append([]byte(nil), b.Bidder[:]...)).String(),
		Amount:      b.Amount.Hex(),
		SaltHash:    hex.EncodeToString(b.SaltHash[:]),
		SubmittedAt: b.SubmittedAt,
		Index:       b.Index,
		IsSealed:    b.IsSealed,
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleCreateLot(w http.ResponseWriter, req *RPCRequest) {
	var params createLotParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	curator, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	reserve, err := parseHexField("encryptedReserve", params.EncryptedReserve)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	proof, err := parseHexField("reserveProof", params.ReserveProof)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := s.engine.CreateLot(curator, strings.TrimSpace(params.MetadataURI), params.StartTime, params.EndTime, reserve, proof)
	if err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, createLotResult{LotID: id})
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, req *RPCRequest) {
	var params submitBidParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	bidder, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	encryptedBid, err := parseHexField("encryptedBid", params.EncryptedBid)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	proof, err := parseHexField("inputProof", params.InputProof)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	salt, err := parseSaltHash(params.SaltHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SubmitBid(params.LotID, bidder, encryptedBid, proof, salt); err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleCloseLot(w http.ResponseWriter, req *RPCRequest) {
	var params lotActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.CloseLot(params.LotID, caller); err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSettleReveal(w http.ResponseWriter, req *RPCRequest) {
	var params settleRevealParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	bidder, err := parseBech32Address(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SettleReveal(params.LotID, caller, params.WinningIndex, params.Amount, bidder); err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleUpdateGateway(w http.ResponseWriter, req *RPCRequest) {
	var params updateGatewayParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	operator, err := parseBech32Address(params.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.UpdateGatewayOperator(caller, operator); err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetLot(w http.ResponseWriter, req *RPCRequest) {
	var params lotIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	lot, err := s.engine.GetLot(params.LotID)
	if err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatLotJSON(lot))
}

func (s *Server) handleGetBid(w http.ResponseWriter, req *RPCRequest) {
	var params getBidParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	bidder, err := parseBech32Address(params.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	envelope, err := s.engine.GetBid(params.LotID, bidder, caller)
	if err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatBidJSON(envelope))
}

func (s *Server) handleListLots(w http.ResponseWriter, req *RPCRequest) {
	ids, err := s.engine.ListLotIDs()
	if err != nil {
		writeAuctionError(w, req.ID, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, ids)
}

func writeAuctionError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeAuctionInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, auction.ErrLotNotFound) || errors.Is(err, auction.ErrBidNotFound):
		status = http.StatusNotFound
		code = codeAuctionNotFound
		message = "not_found"
	case errors.Is(err, auction.ErrNotOwner) || errors.Is(err, auction.ErrNotCurator) || errors.Is(err, auction.ErrUnauthorizedGateway):
		status = http.StatusForbidden
		code = codeAuctionForbidden
		message = "forbidden"
	case errors.Is(err, auction.ErrAuctionClosed) || errors.Is(err, auction.ErrAuctionNotClosed) ||
		errors.Is(err, auction.ErrAlreadySettled) || errors.Is(err, auction.ErrRevealAlreadyRequested) ||
		errors.Is(err, auction.ErrRevealNotRequested) || errors.Is(err, auction.ErrGatewayNotConfigured) ||
		errors.Is(err, auction.ErrSaltAlreadyUsed) || errors.Is(err, auction.ErrBidAlreadySubmitted):
		status = http.StatusConflict
		code = codeAuctionConflict
		message = "conflict"
	case errors.Is(err, auction.ErrInvalidWindow) || errors.Is(err, auction.ErrEmptySalt) ||
		errors.Is(err, auction.ErrOutsideBiddingWindow) || errors.Is(err, fhe.ErrProofInvalid):
		status = http.StatusBadRequest
		code = codeAuctionInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, data)
}

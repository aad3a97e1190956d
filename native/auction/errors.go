package auction

import "errors"

// Every failure is a named, non-retryable condition returned synchronously to
// the caller. The engine performs all precondition checks before the first
// state write, so a rejected operation leaves no partial state behind.
var (
	// Authorization failures.
	ErrNotOwner            = errors.New("auction: caller is not the owner")
	ErrNotCurator          = errors.New("auction: caller is not the lot curator")
	ErrUnauthorizedGateway = errors.New("auction: caller is not the gateway operator")

	// Lifecycle and state violations.
	ErrLotNotFound            = errors.New("auction: lot not found")
	ErrAuctionClosed          = errors.New("auction: lot already closed")
	ErrAuctionNotClosed       = errors.New("auction: lot not closed")
	ErrAlreadySettled         = errors.New("auction: lot already settled")
	ErrRevealAlreadyRequested = errors.New("auction: reveal already requested")
	ErrRevealNotRequested     = errors.New("auction: reveal not requested")
	ErrGatewayNotConfigured   = errors.New("auction: gateway operator not configured")

	// Input validation.
	ErrInvalidWindow        = errors.New("auction: invalid bidding window")
	ErrEmptySalt            = errors.New("auction: salt hash must not be empty")
	ErrOutsideBiddingWindow = errors.New("auction: outside bidding window")

	// Replay and duplication protection.
	ErrSaltAlreadyUsed     = errors.New("auction: salt hash already used in lot")
	ErrBidAlreadySubmitted = errors.New("auction: bidder already submitted in lot")

	// Read API.
	ErrBidNotFound = errors.New("auction: bid envelope not found")
)

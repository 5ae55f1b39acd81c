// Package auction holds the bidding rules and the lazy closing of timed
// auctions. The functions in this file are pure; Manager applies them to
// stored listings inside a unit of work.
package auction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bazaar/internal/store"
)

// Errors returned by auction operations.
var (
	ErrNotAuction      = errors.New("listing is not an auction")
	ErrAuctionEnded    = errors.New("auction has ended")
	ErrBidTooLow       = errors.New("bid is below minimum")
	ErrInvalidAmount   = errors.New("bid amount must be positive, at most 9999999999.99 and have at most two decimal places")
	ErrIncompleteTerms = errors.New("auction requires starting bid, minimum increment and end time")
)

// MaxAmount is the largest amount a NUMERIC(12,2) column holds.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// ValidAmount reports whether d fits the money columns: non-negative, at most
// MaxAmount and with no more than two decimal places.
func ValidAmount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(MaxAmount) && d.Equal(d.Round(2))
}

// BelowMinimumError reports the smallest amount that would have been accepted.
// It matches ErrBidTooLow with errors.Is.
type BelowMinimumError struct {
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return "bid must be at least " + e.Minimum.StringFixed(2)
}

func (e *BelowMinimumError) Is(target error) bool { return target == ErrBidTooLow }

// ValidateTerms checks that an auction listing carries complete, sane terms.
// Fixed-price listings always pass.
func ValidateTerms(l *store.Listing) error {
	if !l.IsAuction() {
		return nil
	}
	if !l.StartingBid.Valid || !l.MinIncrement.Valid || l.EndTime == nil {
		return ErrIncompleteTerms
	}
	if !l.StartingBid.Decimal.IsPositive() || !l.MinIncrement.Decimal.IsPositive() {
		return ErrIncompleteTerms
	}
	return nil
}

// Due reports whether l is an active auction whose end time has passed.
func Due(l *store.Listing, now time.Time) bool {
	return l.IsAuction() && l.Active && l.EndTime != nil && !now.Before(*l.EndTime)
}

// Open reports whether l still accepts bids at now.
func Open(l *store.Listing, now time.Time) bool {
	return l.IsAuction() && l.Active && (l.EndTime == nil || now.Before(*l.EndTime))
}

// MinimumBid returns the smallest acceptable next bid: the highest bid plus the
// increment, or the starting bid when nobody has bid yet.
func MinimumBid(l *store.Listing, highest *store.Bid) decimal.Decimal {
	if highest == nil {
		return l.StartingBid.Decimal
	}
	return highest.Amount.Add(l.MinIncrement.Decimal)
}

// CheckBid validates amount against l's state at now.
func CheckBid(l *store.Listing, highest *store.Bid, amount decimal.Decimal, now time.Time) error {
	if !l.IsAuction() {
		return ErrNotAuction
	}
	if !Open(l, now) {
		return ErrAuctionEnded
	}
	if !amount.IsPositive() || !ValidAmount(amount) {
		return ErrInvalidAmount
	}
	if minimum := MinimumBid(l, highest); amount.LessThan(minimum) {
		return &BelowMinimumError{Minimum: minimum}
	}
	return nil
}

// Settle marks l closed at now with the holder of highest as winner. A nil
// highest leaves the auction without a winner.
func Settle(l *store.Listing, highest *store.Bid, now time.Time) {
	l.Active = false
	l.WinnerID = nil
	if highest != nil {
		winner := highest.BidderID
		l.WinnerID = &winner
	}
	closedAt := now
	l.ClosedAt = &closedAt
}

// HighestOrStart is the figure shown as the current price of an auction: the
// top bid, or the starting bid before anyone has bid. It is invalid for
// fixed-price listings.
func HighestOrStart(l *store.Listing, highest *store.Bid) decimal.NullDecimal {
	if highest != nil {
		return decimal.NewNullDecimal(highest.Amount)
	}
	if l.IsAuction() {
		return l.StartingBid
	}
	return decimal.NullDecimal{}
}

// TimeLeft returns the whole seconds until l ends, clamped at zero, or nil
// when l has no end time.
func TimeLeft(l *store.Listing, now time.Time) *int64 {
	if l.EndTime == nil {
		return nil
	}
	secs := int64(l.EndTime.Sub(now) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return &secs
}

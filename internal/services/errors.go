package services

import (
	"errors"
	"fmt"
)

// Error categories returned by SwapService. Specific failures wrap one of
// these, so callers can match either level with errors.Is.
var (
	ErrInvalidSwapID         = errors.New("invalid swap id")
	ErrNotSeller             = errors.New("you are not the seller")
	ErrNotAuthorizedBuyer    = errors.New("you are not authorized to buy this swap")
	ErrInvalidState          = errors.New("swap already completed or canceled")
	ErrInvalidCurrency       = errors.New("currency is not allowed")
	ErrInvalidAmount         = errors.New("amount needs to be greater than zero")
	ErrInvalidExpiry         = errors.New("invalid bid expiry")
	ErrUnfundedSwap          = errors.New("swap is not funded")
	ErrNoBidExists           = errors.New("bid does not exist")
	ErrInvalidBid            = errors.New("invalid bid")
	ErrInsufficientBalance   = errors.New("you do not have enough tokens")
	ErrInsufficientAllowance = errors.New("you do not have enough tokens approved")
	ErrUnauthorized          = errors.New("caller is not the owner")
	ErrInvalidSetting        = errors.New("invalid setting")
)

var (
	ErrSelfBid           = fmt.Errorf("%w: seller cannot bid on own swap", ErrNotAuthorizedBuyer)
	ErrPrivateSwap       = fmt.Errorf("%w: swap is reserved for another buyer", ErrNotAuthorizedBuyer)
	ErrExpiryInPast      = fmt.Errorf("%w: expiry must be in the future", ErrInvalidExpiry)
	ErrExpiryTooFar      = fmt.Errorf("%w: expiry exceeds the maximum bid horizon", ErrInvalidExpiry)
	ErrNoRestrictedFunds = fmt.Errorf("%w: you do not have any restricted collateral", ErrUnfundedSwap)
	ErrBidExpired        = fmt.Errorf("%w: bid has expired", ErrInvalidBid)
	ErrNoActiveBids      = fmt.Errorf("%w: you have no active bids", ErrNoBidExists)
	ErrCollateralAsset   = fmt.Errorf("%w: collateral asset cannot be used as currency", ErrInvalidCurrency)
)

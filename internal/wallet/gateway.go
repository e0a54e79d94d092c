package wallet

import (
	"context"
	"errors"

	"peertrade/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidAddress reports a destination that failed validation before any
// transfer was attempted.
var ErrInvalidAddress = errors.New("destination address is invalid")

// GeneratedAddress is the provider's plaintext response; callers must
// encrypt both fields before persisting.
type GeneratedAddress struct {
	Address    string
	Credential string
}

type TransferRequest struct {
	Coin       *models.Coin
	From       string
	Credential SigningCredential
	To         string
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	Nonce      *int64
}

type TransferResult struct {
	Accepted bool
	TxHash   string
}

// Gateway is the custodial wallet provider boundary. All methods may block on
// the network and honor context deadlines.
type Gateway interface {
	GenerateAddress(ctx context.Context, coin *models.Coin) (*GeneratedAddress, error)
	GetBalance(ctx context.Context, coin *models.Coin, address string) (decimal.Decimal, error)
	ValidateAddress(ctx context.Context, coin *models.Coin, address string) (bool, error)
	EstimateFee(ctx context.Context, coin *models.Coin, from, to string, amount decimal.Decimal) (decimal.Decimal, error)
	// GetNextNonce applies to account-model coins only.
	GetNextNonce(ctx context.Context, coin *models.Coin, address string) (int64, error)
	SubmitTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

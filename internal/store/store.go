package store

import (
	"context"
	"errors"

	"peertrade/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// OfferFilter narrows public offer listings.
type OfferFilter struct {
	CoinID string
	Price  *decimal.Decimal
	Offset int
	Limit  int
}

// TradeFilter narrows a user's trade listings.
type TradeFilter struct {
	Status models.TradeStatus
	Offset int
	Limit  int
}

// Store is the persistence boundary shared by the Postgres and SQLite
// backends. Every state-machine transition is a conditional single-statement
// write; the bool result reports whether the precondition still held.
type Store interface {
	CreateCoin(ctx context.Context, coin *models.Coin) error
	GetCoin(ctx context.Context, id string) (*models.Coin, error)
	GetCoinByShortName(ctx context.Context, shortName string) (*models.Coin, error)
	ListCoins(ctx context.Context) ([]*models.Coin, error)
	UpdateCoinPrice(ctx context.Context, id string, price, marketCap, volume decimal.Decimal) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)

	CreateAddress(ctx context.Context, addr *models.Address) error
	GetAddress(ctx context.Context, userID, coinID string) (*models.Address, error)
	CreatePlatformAddress(ctx context.Context, addr *models.PlatformAddress) error
	GetPlatformAddress(ctx context.Context, coinID string) (*models.PlatformAddress, error)

	CreateOffer(ctx context.Context, offer *models.Offer) error
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	ListActiveOffers(ctx context.Context, filter OfferFilter) ([]*models.Offer, int, error)
	ListOffersByOwner(ctx context.Context, userID string, offset, limit int) ([]*models.Offer, int, error)
	// ListActiveOffersByOwnerCoin returns the owner's active offers in one
	// coin, optionally excluding a single offer (pass "" to exclude none).
	ListActiveOffersByOwnerCoin(ctx context.Context, userID, coinID, excludeOfferID string) ([]*models.Offer, error)
	UpdateOfferTerms(ctx context.Context, id string, typ models.OfferType, min, max, rate decimal.Decimal) (bool, error)
	ShrinkOfferMax(ctx context.Context, id string, newMax decimal.Decimal) (bool, error)
	CloseOffer(ctx context.Context, id string) (bool, error)
	SoftDeleteOffer(ctx context.Context, id string) (bool, error)
	CountTradesByOffer(ctx context.Context, offerID string) (int64, error)
	CountPendingTradesByOffer(ctx context.Context, offerID, excludeTradeID string) (int64, error)

	CreateTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	GetTradeByRef(ctx context.Context, ref string) (*models.Trade, error)
	TradeRefExists(ctx context.Context, ref string) (bool, error)
	ListTradesByUser(ctx context.Context, userID string, filter TradeFilter) ([]*models.Trade, int, error)
	// ListRunningTradesByOffer returns an offer's trades that still hold the
	// seller's coin: not cancelled and not yet coin-released.
	ListRunningTradesByOffer(ctx context.Context, offerID string) ([]*models.Trade, error)
	// ListLockedSellerTrades returns the seller's coin-holding trades across
	// all offers in one coin.
	ListLockedSellerTrades(ctx context.Context, sellerID, coinID string) ([]*models.Trade, error)
	AcceptTrade(ctx context.Context, id string) (bool, error)
	MarkPaymentMade(ctx context.Context, id string) (bool, error)
	ConfirmTrade(ctx context.Context, id string) (bool, error)
	CancelTrade(ctx context.Context, id string) (bool, error)
	MarkCoinReleased(ctx context.Context, id string) (bool, error)
	MarkFeeReleased(ctx context.Context, id string) (bool, error)
	ListUnsettledTrades(ctx context.Context, limit int) ([]*models.Trade, error)

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	ListTransactions(ctx context.Context, userID, coinID string, offset, limit int) ([]*models.Transaction, int, error)
}

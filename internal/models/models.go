package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CoinKind string

const (
	CoinKindUTXO    CoinKind = "utxo"
	CoinKindAccount CoinKind = "account"
)

type Coin struct {
	ID        string
	Name      string
	Slug      string
	ShortName string
	Kind      CoinKind
	Price     decimal.Decimal
	MarketCap decimal.Decimal
	Volume    decimal.Decimal
}

type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Address links a user to a custodial wallet identity for one coin.
// Path and Sig hold ciphertext; only wallet.Vault can open them.
type Address struct {
	ID        string
	UserID    string
	CoinID    string
	Path      string
	Sig       string
	CreatedAt time.Time
}

// PlatformAddress is the platform-owned fee destination for one coin.
type PlatformAddress struct {
	ID        string
	CoinID    string
	Path      string
	Sig       string
	CreatedAt time.Time
}

type OfferType string

const (
	OfferTypeNaira  OfferType = "naira"
	OfferTypeDollar OfferType = "dollar"
)

type OfferStatus string

const (
	OfferActive OfferStatus = "active"
	OfferClosed OfferStatus = "closed"
)

type Offer struct {
	ID        string
	UserID    string
	CoinID    string
	Type      OfferType
	Min       decimal.Decimal
	Max       decimal.Decimal
	Rate      decimal.Decimal
	Status    OfferStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

type TradeStatus string

const (
	TradePending    TradeStatus = "pending"
	TradeCancelled  TradeStatus = "cancelled"
	TradeSuccessful TradeStatus = "successful"
)

// Per-party step counters while a trade is pending.
// 0 = not acted, 1 = accepted, 2 = own sub-step confirmed.
const (
	StateNone      = 0
	StateAccepted  = 1
	StateConfirmed = 2
)

type Trade struct {
	ID               string
	Ref              string
	CoinID           string
	OfferID          string
	BuyerID          string
	SellerID         string
	AmountInCoin     decimal.Decimal
	AmountInUSD      decimal.Decimal
	AmountInNGN      decimal.Decimal
	FeeInCoin        decimal.Decimal
	FeeInUSD         decimal.Decimal
	FeeInNGN         decimal.Decimal
	BuyerTradeState  int
	SellerTradeState int
	Status           TradeStatus
	CoinReleased     bool
	FeeReleased      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type TransactionType string

const (
	TxWithdrawal TransactionType = "withdrawal"
	TxTrade      TransactionType = "trade"
	TxFee        TransactionType = "fee"
)

// Transaction is an append-only audit record of a custodial movement.
// Party and TxHash hold ciphertext.
type Transaction struct {
	ID        string
	CoinID    string
	UserID    string
	TradeID   *string
	Type      TransactionType
	Amount    decimal.Decimal
	Party     string
	TxHash    string
	CreatedAt time.Time
}

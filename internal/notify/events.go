package notify

import (
	"peertrade/internal/models"

	"github.com/shopspring/decimal"
)

// Event is one thing that happened that the parties should hear about.
// Every variant carries its own typed payload; consumers switch on the
// concrete type, never on a string tag.
type Event interface {
	// Name is the wire tag pushed to websocket subscribers.
	Name() string
	// TradeRef is the trade channel the event belongs to, "" for none.
	TradeRef() string
	// Recipients are the user IDs that should be notified.
	Recipients() []string
}

type TradeInitiated struct {
	Trade *models.Trade
}

func (e TradeInitiated) Name() string          { return "trade.initiated" }
func (e TradeInitiated) TradeRef() string      { return e.Trade.Ref }
func (e TradeInitiated) Recipients() []string  { return []string{e.Trade.SellerID} }

type TradeAccepted struct {
	Trade *models.Trade
}

func (e TradeAccepted) Name() string         { return "trade.accepted" }
func (e TradeAccepted) TradeRef() string     { return e.Trade.Ref }
func (e TradeAccepted) Recipients() []string { return []string{e.Trade.BuyerID} }

type PaymentMade struct {
	Trade *models.Trade
}

func (e PaymentMade) Name() string         { return "trade.payment_made" }
func (e PaymentMade) TradeRef() string     { return e.Trade.Ref }
func (e PaymentMade) Recipients() []string { return []string{e.Trade.SellerID} }

type PaymentConfirmed struct {
	Trade *models.Trade
}

func (e PaymentConfirmed) Name() string     { return "trade.payment_confirmed" }
func (e PaymentConfirmed) TradeRef() string { return e.Trade.Ref }
func (e PaymentConfirmed) Recipients() []string {
	return []string{e.Trade.BuyerID, e.Trade.SellerID}
}

type TradeCancelled struct {
	Trade       *models.Trade
	CancelledBy string
}

func (e TradeCancelled) Name() string     { return "trade.cancelled" }
func (e TradeCancelled) TradeRef() string { return e.Trade.Ref }
func (e TradeCancelled) Recipients() []string {
	return []string{e.Trade.BuyerID, e.Trade.SellerID}
}

type CoinReleased struct {
	Trade *models.Trade
}

func (e CoinReleased) Name() string         { return "trade.coin_released" }
func (e CoinReleased) TradeRef() string     { return e.Trade.Ref }
func (e CoinReleased) Recipients() []string { return []string{e.Trade.BuyerID, e.Trade.SellerID} }

type WithdrawalCompleted struct {
	UserID string
	Coin   *models.Coin
	Amount decimal.Decimal
	TxHash string
}

func (e WithdrawalCompleted) Name() string         { return "withdrawal.completed" }
func (e WithdrawalCompleted) TradeRef() string     { return "" }
func (e WithdrawalCompleted) Recipients() []string { return []string{e.UserID} }

package trades

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"peertrade/internal/ledger"
	"peertrade/internal/models"
	"peertrade/internal/notify"
	"peertrade/internal/offers"
	"peertrade/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized          = errors.New("user is not a party to this trade action")
	ErrOwnOffer              = errors.New("cannot trade on your own offer")
	ErrOfferNotActive        = errors.New("offer is not active")
	ErrAmountOutOfRange      = errors.New("amount is outside the offer's min/max range")
	ErrInsufficientTradeable = errors.New("offer cannot cover this amount right now")
	ErrNotPending            = errors.New("trade is not pending")
	ErrAlreadyAccepted       = errors.New("trade was already accepted")
	ErrNotAccepted           = errors.New("seller has not accepted the trade")
	ErrPaymentNotMade        = errors.New("buyer has not marked payment as made")
	ErrPaymentAlreadyMade    = errors.New("payment was already marked as made")
	ErrConfirmed             = errors.New("trade is already confirmed")
	ErrStale                 = errors.New("trade changed concurrently, retry")
)

const refDigits = 12

// Service drives the trade state machine. All six denominations of a trade
// are frozen at initiation; later price moves never change what a pending
// trade is worth. Transitions are conditional single-statement writes, so two
// racing actors resolve to exactly one winner.
type Service struct {
	store      store.Store
	ledger     *ledger.Calculator
	offers     *offers.Service
	dispatcher *notify.Dispatcher
	feePercent decimal.Decimal
}

func NewService(st store.Store, lc *ledger.Calculator, off *offers.Service, d *notify.Dispatcher, feePercent decimal.Decimal) *Service {
	return &Service{store: st, ledger: lc, offers: off, dispatcher: d, feePercent: feePercent}
}

// Initiate opens a pending trade on an offer. The buyer quotes a fiat amount
// in the offer's own denomination.
func (s *Service) Initiate(ctx context.Context, buyerID, offerID string, amount decimal.Decimal) (*models.Trade, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.UserID == buyerID {
		return nil, ErrOwnOffer
	}
	if offer.Status != models.OfferActive {
		return nil, ErrOfferNotActive
	}
	if amount.LessThan(offer.Min) || amount.GreaterThan(offer.Max) {
		return nil, ErrAmountOutOfRange
	}

	coin, err := s.store.GetCoin(ctx, offer.CoinID)
	if err != nil {
		return nil, err
	}
	if coin.Price.IsZero() {
		return nil, fmt.Errorf("coin %s has no price", coin.ShortName)
	}

	var amountUSD, amountNGN decimal.Decimal
	if offer.Type == models.OfferTypeNaira {
		amountNGN = amount
		amountUSD = amount.Div(offer.Rate)
	} else {
		amountUSD = amount
		amountNGN = amount.Mul(offer.Rate)
	}
	precision := s.ledger.Precision()
	amountInCoin := amountUSD.Div(coin.Price).Round(precision)

	feeUSD := amountUSD.Mul(s.feePercent).Div(decimal.NewFromInt(100))
	feeInCoin := feeUSD.Div(coin.Price).Round(precision)
	feeNGN := amountNGN.Mul(s.feePercent).Div(decimal.NewFromInt(100))

	free, err := s.ledger.TradeableBalance(ctx, offer, coin)
	if err != nil {
		return nil, err
	}
	if amountInCoin.GreaterThan(free) {
		return nil, ErrInsufficientTradeable
	}

	ref, err := s.newRef(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	trade := &models.Trade{
		ID:               uuid.NewString(),
		Ref:              ref,
		CoinID:           coin.ID,
		OfferID:          offer.ID,
		BuyerID:          buyerID,
		SellerID:         offer.UserID,
		AmountInCoin:     amountInCoin,
		AmountInUSD:      amountUSD,
		AmountInNGN:      amountNGN,
		FeeInCoin:        feeInCoin,
		FeeInUSD:         feeUSD,
		FeeInNGN:         feeNGN,
		BuyerTradeState:  models.StateAccepted,
		SellerTradeState: models.StateNone,
		Status:           models.TradePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateTrade(ctx, trade); err != nil {
		return nil, err
	}
	zap.L().Info("trade initiated",
		zap.String("ref", trade.Ref),
		zap.String("offer_id", offer.ID),
		zap.String("buyer_id", buyerID))
	s.dispatcher.Dispatch(ctx, notify.TradeInitiated{Trade: trade})
	return trade, nil
}

// newRef draws a random 12-digit reference, retrying on collision.
func (s *Service) newRef(ctx context.Context) (string, error) {
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(refDigits-1), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))
	for attempt := 0; attempt < 5; attempt++ {
		n, err := rand.Int(rand.Reader, span)
		if err != nil {
			return "", err
		}
		ref := new(big.Int).Add(low, n).String()
		exists, err := s.store.TradeRefExists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !exists {
			return ref, nil
		}
	}
	return "", errors.New("could not allocate a unique trade reference")
}

// Accept is the seller acknowledging the trade. Only then may the buyer send
// fiat.
func (s *Service) Accept(ctx context.Context, sellerID, tradeID string) (*models.Trade, error) {
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.SellerID != sellerID {
		return nil, ErrUnauthorized
	}
	if trade.Status != models.TradePending {
		return nil, ErrNotPending
	}
	if trade.SellerTradeState != models.StateNone {
		return nil, ErrAlreadyAccepted
	}

	ok, err := s.store.AcceptTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, trade.ID, ErrAlreadyAccepted)
	}
	trade, err = s.store.GetTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, notify.TradeAccepted{Trade: trade})
	return trade, nil
}

// MakePayment is the buyer declaring the fiat transfer was sent.
func (s *Service) MakePayment(ctx context.Context, buyerID, tradeID string) (*models.Trade, error) {
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.BuyerID != buyerID {
		return nil, ErrUnauthorized
	}
	if trade.Status != models.TradePending {
		return nil, ErrNotPending
	}
	if trade.SellerTradeState == models.StateNone {
		return nil, ErrNotAccepted
	}
	if trade.BuyerTradeState == models.StateConfirmed {
		return nil, ErrPaymentAlreadyMade
	}

	ok, err := s.store.MarkPaymentMade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, trade.ID, ErrPaymentAlreadyMade)
	}
	trade, err = s.store.GetTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(ctx, notify.PaymentMade{Trade: trade})
	return trade, nil
}

// ConfirmPayment is the seller acknowledging receipt of fiat. It finalizes
// the trade, shrinks or closes the offer, and leaves the trade for the
// settlement engine to release coins.
func (s *Service) ConfirmPayment(ctx context.Context, sellerID, tradeID string) (*models.Trade, error) {
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.SellerID != sellerID {
		return nil, ErrUnauthorized
	}
	if trade.Status != models.TradePending {
		return nil, ErrNotPending
	}
	if trade.SellerTradeState == models.StateNone {
		return nil, ErrNotAccepted
	}
	if trade.BuyerTradeState != models.StateConfirmed {
		return nil, ErrPaymentNotMade
	}

	ok, err := s.store.ConfirmTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, trade.ID, ErrStale)
	}
	trade, err = s.store.GetTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}

	offer, err := s.store.GetOffer(ctx, trade.OfferID)
	if err == nil {
		if err := s.offers.CloseOrShrink(ctx, offer, trade); err != nil {
			zap.L().Error("offer close-or-shrink failed",
				zap.String("ref", trade.Ref),
				zap.String("offer_id", offer.ID),
				zap.Error(err))
		}
	}
	zap.L().Info("trade confirmed", zap.String("ref", trade.Ref))
	s.dispatcher.Dispatch(ctx, notify.PaymentConfirmed{Trade: trade})
	return trade, nil
}

// Cancel lets the buyer walk away from a pending trade. Once the seller has
// confirmed payment the coins belong to the buyer and cancellation is closed.
func (s *Service) Cancel(ctx context.Context, actorID, tradeID string) (*models.Trade, error) {
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if actorID != trade.BuyerID {
		return nil, ErrUnauthorized
	}
	if trade.Status != models.TradePending {
		return nil, ErrNotPending
	}
	if trade.SellerTradeState == models.StateConfirmed {
		return nil, ErrConfirmed
	}

	ok, err := s.store.CancelTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.transitionError(ctx, trade.ID, ErrStale)
	}
	trade, err = s.store.GetTrade(ctx, trade.ID)
	if err != nil {
		return nil, err
	}
	zap.L().Info("trade cancelled", zap.String("ref", trade.Ref), zap.String("by", actorID))
	s.dispatcher.Dispatch(ctx, notify.TradeCancelled{Trade: trade, CancelledBy: actorID})
	return trade, nil
}

// transitionError re-reads after a lost conditional write and names the
// precondition that no longer holds.
func (s *Service) transitionError(ctx context.Context, tradeID string, fallback error) error {
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fallback
	}
	switch {
	case trade.Status == models.TradeCancelled:
		return ErrNotPending
	case trade.Status == models.TradeSuccessful:
		return ErrConfirmed
	default:
		return fallback
	}
}

func (s *Service) Get(ctx context.Context, tradeID string) (*models.Trade, error) {
	return s.store.GetTrade(ctx, tradeID)
}

func (s *Service) GetByRef(ctx context.Context, ref string) (*models.Trade, error) {
	return s.store.GetTradeByRef(ctx, ref)
}

func (s *Service) ListMine(ctx context.Context, userID string, filter store.TradeFilter) ([]*models.Trade, int, error) {
	return s.store.ListTradesByUser(ctx, userID, filter)
}

package offers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peertrade/internal/ledger"
	"peertrade/internal/models"
	"peertrade/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized        = errors.New("offer does not belong to this user")
	ErrInsufficientBalance = errors.New("withdrawable balance cannot cover the offer ceiling")
	ErrOfferClosed         = errors.New("offer is not active")
	ErrOfferHasTrades      = errors.New("offer has trades and cannot be deleted")
	ErrPendingTrades       = errors.New("offer has pending trades")
	ErrStale               = errors.New("offer changed concurrently, retry")
	ErrInvalidTerms        = errors.New("offer terms are invalid")
)

type CreateInput struct {
	CoinID string
	Type   models.OfferType
	Min    decimal.Decimal
	Max    decimal.Decimal
	Rate   decimal.Decimal
}

type UpdateInput struct {
	Type models.OfferType
	Min  decimal.Decimal
	Max  decimal.Decimal
	Rate decimal.Decimal
}

// Service owns the offer lifecycle. Every mutation checks the ownership and
// balance invariants against fresh reads, then commits with a conditional
// write so a lost race surfaces as ErrStale instead of a silent overwrite.
type Service struct {
	store  store.Store
	ledger *ledger.Calculator
}

func NewService(st store.Store, lc *ledger.Calculator) *Service {
	return &Service{store: st, ledger: lc}
}

func validateTerms(typ models.OfferType, min, max, rate decimal.Decimal) error {
	switch typ {
	case models.OfferTypeNaira, models.OfferTypeDollar:
	default:
		return fmt.Errorf("%w: unknown offer type %q", ErrInvalidTerms, typ)
	}
	if max.Sign() <= 0 || min.Sign() < 0 || min.GreaterThan(max) {
		return fmt.Errorf("%w: min/max out of range", ErrInvalidTerms)
	}
	if typ == models.OfferTypeNaira && rate.Sign() <= 0 {
		return fmt.Errorf("%w: naira offers need a positive rate", ErrInvalidTerms)
	}
	return nil
}

// Create opens a sell offer for the user. The ceiling in coin units must fit
// inside the user's withdrawable balance at creation time.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*models.Offer, error) {
	if err := validateTerms(in.Type, in.Min, in.Max, in.Rate); err != nil {
		return nil, err
	}
	coin, err := s.store.GetCoin(ctx, in.CoinID)
	if err != nil {
		return nil, err
	}

	ceiling := s.ledger.MaxPriceInCoinFromInputs(in.Type, in.Max, in.Rate, coin.Price)
	if ceiling.Sign() <= 0 {
		return nil, fmt.Errorf("%w: ceiling resolves to zero coin", ErrInvalidTerms)
	}
	free, err := s.ledger.WithdrawableBalance(ctx, userID, coin)
	if err != nil {
		return nil, err
	}
	if ceiling.GreaterThan(free) {
		return nil, ErrInsufficientBalance
	}

	now := time.Now().UTC()
	offer := &models.Offer{
		ID:        uuid.NewString(),
		UserID:    userID,
		CoinID:    coin.ID,
		Type:      in.Type,
		Min:       in.Min,
		Max:       in.Max,
		Rate:      in.Rate,
		Status:    models.OfferActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}
	zap.L().Info("offer created",
		zap.String("offer_id", offer.ID),
		zap.String("user_id", userID),
		zap.String("coin", coin.ShortName))
	return offer, nil
}

// Update replaces an active offer's terms. The new ceiling is validated
// against the withdrawable balance with the old offer's lock excluded, since
// the new terms supersede it.
func (s *Service) Update(ctx context.Context, userID, offerID string, in UpdateInput) (*models.Offer, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.UserID != userID {
		return nil, ErrUnauthorized
	}
	if offer.Status != models.OfferActive {
		return nil, ErrOfferClosed
	}
	if err := validateTerms(in.Type, in.Min, in.Max, in.Rate); err != nil {
		return nil, err
	}

	coin, err := s.store.GetCoin(ctx, offer.CoinID)
	if err != nil {
		return nil, err
	}
	ceiling := s.ledger.MaxPriceInCoinFromInputs(in.Type, in.Max, in.Rate, coin.Price)
	if ceiling.Sign() <= 0 {
		return nil, fmt.Errorf("%w: ceiling resolves to zero coin", ErrInvalidTerms)
	}
	free, err := s.ledger.WithdrawableBalanceExcludingOffer(ctx, userID, coin, offer.ID)
	if err != nil {
		return nil, err
	}
	if ceiling.GreaterThan(free) {
		return nil, ErrInsufficientBalance
	}

	ok, err := s.store.UpdateOfferTerms(ctx, offer.ID, in.Type, in.Min, in.Max, in.Rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStale
	}
	return s.store.GetOffer(ctx, offer.ID)
}

// Close retires an active offer. Pending trades keep it open so buyers
// already in flight are not orphaned.
func (s *Service) Close(ctx context.Context, userID, offerID string) error {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.UserID != userID {
		return ErrUnauthorized
	}
	if offer.Status != models.OfferActive {
		return ErrOfferClosed
	}
	pending, err := s.store.CountPendingTradesByOffer(ctx, offer.ID, "")
	if err != nil {
		return err
	}
	if pending > 0 {
		return ErrPendingTrades
	}
	ok, err := s.store.CloseOffer(ctx, offer.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStale
	}
	zap.L().Info("offer closed", zap.String("offer_id", offer.ID))
	return nil
}

// Delete soft-deletes an offer that never traded. Once any trade references
// the offer it stays in history forever.
func (s *Service) Delete(ctx context.Context, userID, offerID string) error {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.UserID != userID {
		return ErrUnauthorized
	}
	traded, err := s.store.CountTradesByOffer(ctx, offer.ID)
	if err != nil {
		return err
	}
	if traded > 0 {
		return ErrOfferHasTrades
	}
	ok, err := s.store.SoftDeleteOffer(ctx, offer.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStale
	}
	return nil
}

func (s *Service) Get(ctx context.Context, offerID string) (*models.Offer, error) {
	return s.store.GetOffer(ctx, offerID)
}

func (s *Service) List(ctx context.Context, filter store.OfferFilter) ([]*models.Offer, int, error) {
	return s.store.ListActiveOffers(ctx, filter)
}

func (s *Service) ListMine(ctx context.Context, userID string, offset, limit int) ([]*models.Offer, int, error) {
	return s.store.ListOffersByOwner(ctx, userID, offset, limit)
}

// CloseOrShrink resizes an offer after one of its trades completes. While
// another pending trade is running the offer is left alone. Otherwise the
// ceiling is measured against what the seller can still back: a balance that
// covers the ceiling changes nothing, one that covers at least the minimum
// shrinks the max down to it, anything less closes the offer.
func (s *Service) CloseOrShrink(ctx context.Context, offer *models.Offer, trade *models.Trade) error {
	if offer.Status != models.OfferActive {
		return nil
	}
	pending, err := s.store.CountPendingTradesByOffer(ctx, offer.ID, trade.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}

	coin, err := s.store.GetCoin(ctx, offer.CoinID)
	if err != nil {
		return err
	}
	capacity, err := s.ledger.WithdrawableBalanceExcludingOffer(ctx, offer.UserID, coin, offer.ID)
	if err != nil {
		return err
	}
	fiatCapacity := capacity.Mul(coin.Price)
	if offer.Type == models.OfferTypeNaira {
		fiatCapacity = fiatCapacity.Mul(offer.Rate)
	}

	if fiatCapacity.GreaterThanOrEqual(offer.Max) {
		return nil
	}
	if fiatCapacity.GreaterThan(offer.Min) {
		if _, err := s.store.ShrinkOfferMax(ctx, offer.ID, fiatCapacity); err != nil {
			return err
		}
		zap.L().Info("offer max shrunk to remaining capacity",
			zap.String("offer_id", offer.ID),
			zap.String("max", fiatCapacity.String()))
		return nil
	}
	ok, err := s.store.CloseOffer(ctx, offer.ID)
	if err != nil {
		return err
	}
	if ok {
		zap.L().Info("offer exhausted and closed", zap.String("offer_id", offer.ID))
	}
	return nil
}

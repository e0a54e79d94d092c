package ledger

import (
	"context"
	"errors"
	"fmt"

	"peertrade/internal/models"
	"peertrade/internal/store"
	"peertrade/internal/wallet"

	"github.com/shopspring/decimal"
)

// ErrNoAddress reports a user with no custodial address for the coin.
var ErrNoAddress = errors.New("user has no address for this coin")

// Calculator derives balances on demand. Nothing here is cached or stored:
// the custodial chain balance and the open offers and trades in the store
// are the only sources of truth.
type Calculator struct {
	store     store.Store
	gateway   wallet.Gateway
	vault     *wallet.Vault
	precision int32
}

func NewCalculator(st store.Store, gw wallet.Gateway, vault *wallet.Vault, precision int32) *Calculator {
	if precision <= 0 {
		precision = 8
	}
	return &Calculator{store: st, gateway: gw, vault: vault, precision: precision}
}

// TotalBalance is the confirmed on-chain balance of the user's custodial
// address, straight from the wallet provider.
func (c *Calculator) TotalBalance(ctx context.Context, userID string, coin *models.Coin) (decimal.Decimal, error) {
	addr, err := c.store.GetAddress(ctx, userID, coin.ID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, ErrNoAddress
	}
	if err != nil {
		return decimal.Zero, err
	}
	plain, err := c.vault.DecryptString(addr.Path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("open address for user %s: %w", userID, err)
	}
	return c.gateway.GetBalance(ctx, coin, plain)
}

// MaxPriceInCoin converts an offer's fiat ceiling into coin units.
// Naira offers quote a naira amount and a naira-per-dollar rate; dollar
// offers quote dollars directly.
func (c *Calculator) MaxPriceInCoin(offer *models.Offer, coin *models.Coin) decimal.Decimal {
	return c.MaxPriceInCoinFromInputs(offer.Type, offer.Max, offer.Rate, coin.Price)
}

func (c *Calculator) MaxPriceInCoinFromInputs(typ models.OfferType, max, rate, coinPrice decimal.Decimal) decimal.Decimal {
	if coinPrice.IsZero() {
		return decimal.Zero
	}
	usd := max
	if typ == models.OfferTypeNaira {
		if rate.IsZero() {
			return decimal.Zero
		}
		usd = max.Div(rate)
	}
	return usd.Div(coinPrice).Round(c.precision)
}

// LockedBalance is the portion of a user's total that active offers and
// unsettled sales have already spoken for.
func (c *Calculator) LockedBalance(ctx context.Context, userID string, coin *models.Coin) (decimal.Decimal, error) {
	return c.lockedBalance(ctx, userID, coin, "")
}

// LockedBalanceExcludingOffer recomputes the lock as if the given offer did
// not exist. Offer updates use it to validate the replacement terms.
func (c *Calculator) LockedBalanceExcludingOffer(ctx context.Context, userID string, coin *models.Coin, excludeOfferID string) (decimal.Decimal, error) {
	return c.lockedBalance(ctx, userID, coin, excludeOfferID)
}

func (c *Calculator) lockedBalance(ctx context.Context, userID string, coin *models.Coin, excludeOfferID string) (decimal.Decimal, error) {
	offers, err := c.store.ListActiveOffersByOwnerCoin(ctx, userID, coin.ID, excludeOfferID)
	if err != nil {
		return decimal.Zero, err
	}
	locked := decimal.Zero
	for _, offer := range offers {
		locked = locked.Add(c.MaxPriceInCoin(offer, coin))
	}

	// Coins sold in trades that have not been released yet are still in the
	// seller's custodial address, so they stay locked until settlement.
	trades, err := c.store.ListLockedSellerTrades(ctx, userID, coin.ID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, tr := range trades {
		locked = locked.Add(tr.AmountInCoin)
	}
	return locked.Round(c.precision), nil
}

// WithdrawableBalance = total - locked, floored at zero.
func (c *Calculator) WithdrawableBalance(ctx context.Context, userID string, coin *models.Coin) (decimal.Decimal, error) {
	return c.withdrawable(ctx, userID, coin, "")
}

func (c *Calculator) WithdrawableBalanceExcludingOffer(ctx context.Context, userID string, coin *models.Coin, excludeOfferID string) (decimal.Decimal, error) {
	return c.withdrawable(ctx, userID, coin, excludeOfferID)
}

func (c *Calculator) withdrawable(ctx context.Context, userID string, coin *models.Coin, excludeOfferID string) (decimal.Decimal, error) {
	total, err := c.TotalBalance(ctx, userID, coin)
	if err != nil {
		return decimal.Zero, err
	}
	locked, err := c.lockedBalance(ctx, userID, coin, excludeOfferID)
	if err != nil {
		return decimal.Zero, err
	}
	free := total.Sub(locked)
	if free.Sign() < 0 {
		free = decimal.Zero
	}
	return free.Round(c.precision), nil
}

// TradeableBalance is how much of an offer's ceiling is still open for new
// trades: the ceiling minus everything pending trades already claim.
func (c *Calculator) TradeableBalance(ctx context.Context, offer *models.Offer, coin *models.Coin) (decimal.Decimal, error) {
	running, err := c.store.ListRunningTradesByOffer(ctx, offer.ID)
	if err != nil {
		return decimal.Zero, err
	}
	claimed := decimal.Zero
	for _, tr := range running {
		claimed = claimed.Add(tr.AmountInCoin)
	}
	free := c.MaxPriceInCoin(offer, coin).Sub(claimed)
	if free.Sign() < 0 {
		free = decimal.Zero
	}
	return free.Round(c.precision), nil
}

// Precision is the coin-amount rounding scale used across the calculator.
func (c *Calculator) Precision() int32 { return c.precision }

package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peertrade/internal/ledger"
	"peertrade/internal/models"
	"peertrade/internal/notify"
	"peertrade/internal/store"
	"peertrade/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance = errors.New("withdrawable balance cannot cover this amount")
	ErrTransferRejected    = errors.New("wallet provider rejected the transfer")
	ErrTradeNotSettleable  = errors.New("trade is not successful")
)

// Engine moves coins after trades finalize and on withdrawals. Each release
// flag flips only after the wallet provider accepts the transfer, so a failed
// attempt leaves the trade in the retry queue; the conditional flag write
// keeps the audit trail at one transaction row per leg.
type Engine struct {
	store      store.Store
	ledger     *ledger.Calculator
	gateway    wallet.Gateway
	vault      *wallet.Vault
	dispatcher *notify.Dispatcher
}

func NewEngine(st store.Store, lc *ledger.Calculator, gw wallet.Gateway, vault *wallet.Vault, d *notify.Dispatcher) *Engine {
	return &Engine{store: st, ledger: lc, gateway: gw, vault: vault, dispatcher: d}
}

// Settle releases both legs of a successful trade. Either leg alone is
// idempotent, so a half-settled trade is picked up again on the next pass.
func (e *Engine) Settle(ctx context.Context, trade *models.Trade) error {
	if trade.Status != models.TradeSuccessful {
		return ErrTradeNotSettleable
	}
	if err := e.ReleaseCoinToBuyer(ctx, trade); err != nil {
		return fmt.Errorf("release coin for trade %s: %w", trade.Ref, err)
	}
	if err := e.ReleaseFeeToTreasury(ctx, trade); err != nil {
		return fmt.Errorf("release fee for trade %s: %w", trade.Ref, err)
	}
	return nil
}

// ReleaseCoinToBuyer sends amount minus fee from the seller's custodial
// address to the buyer's. The coin_released flag is set only once the
// provider accepts the transfer; on any failure it stays false and the next
// sweep tries again.
func (e *Engine) ReleaseCoinToBuyer(ctx context.Context, trade *models.Trade) error {
	if trade.CoinReleased {
		return nil
	}

	coin, err := e.store.GetCoin(ctx, trade.CoinID)
	if err != nil {
		return err
	}
	buyerAddr, err := e.store.GetAddress(ctx, trade.BuyerID, coin.ID)
	if err != nil {
		return err
	}
	to, err := e.vault.DecryptString(buyerAddr.Path)
	if err != nil {
		return err
	}

	payout := trade.AmountInCoin.Sub(trade.FeeInCoin)
	result, err := e.transferFromSeller(ctx, coin, trade, to, payout)
	if err != nil {
		return err
	}

	ok, err := e.store.MarkCoinReleased(ctx, trade.ID)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent sweep released this leg first and owns the audit row.
		zap.L().Warn("coin release raced", zap.String("ref", trade.Ref))
		return nil
	}

	if err := e.record(ctx, &models.Transaction{
		CoinID:  coin.ID,
		UserID:  trade.BuyerID,
		TradeID: &trade.ID,
		Type:    models.TxTrade,
		Amount:  payout,
	}, to, result.TxHash); err != nil {
		return err
	}
	zap.L().Info("coin released", zap.String("ref", trade.Ref), zap.String("coin", coin.ShortName))
	e.dispatcher.Dispatch(ctx, notify.CoinReleased{Trade: trade})
	return nil
}

// ReleaseFeeToTreasury sends the platform fee from the seller's custodial
// address to the platform address for the coin. Like the coin leg, the flag
// is set only after an accepted transfer.
func (e *Engine) ReleaseFeeToTreasury(ctx context.Context, trade *models.Trade) error {
	if trade.FeeReleased {
		return nil
	}
	if trade.FeeInCoin.Sign() <= 0 {
		_, err := e.store.MarkFeeReleased(ctx, trade.ID)
		return err
	}

	coin, err := e.store.GetCoin(ctx, trade.CoinID)
	if err != nil {
		return err
	}
	platformAddr, err := e.store.GetPlatformAddress(ctx, coin.ID)
	if err != nil {
		return err
	}
	to, err := e.vault.DecryptString(platformAddr.Path)
	if err != nil {
		return err
	}

	result, err := e.transferFromSeller(ctx, coin, trade, to, trade.FeeInCoin)
	if err != nil {
		return err
	}

	ok, err := e.store.MarkFeeReleased(ctx, trade.ID)
	if err != nil {
		return err
	}
	if !ok {
		zap.L().Warn("fee release raced", zap.String("ref", trade.Ref))
		return nil
	}

	if err := e.record(ctx, &models.Transaction{
		CoinID:  coin.ID,
		UserID:  trade.SellerID,
		TradeID: &trade.ID,
		Type:    models.TxFee,
		Amount:  trade.FeeInCoin,
	}, to, result.TxHash); err != nil {
		return err
	}
	zap.L().Info("fee released", zap.String("ref", trade.Ref), zap.String("coin", coin.ShortName))
	return nil
}

func (e *Engine) transferFromSeller(ctx context.Context, coin *models.Coin, trade *models.Trade, to string, amount decimal.Decimal) (*wallet.TransferResult, error) {
	sellerAddr, err := e.store.GetAddress(ctx, trade.SellerID, coin.ID)
	if err != nil {
		return nil, err
	}
	from, err := e.vault.DecryptString(sellerAddr.Path)
	if err != nil {
		return nil, err
	}
	credential, err := e.vault.UnlockSigningCredential(sellerAddr.Sig)
	if err != nil {
		return nil, err
	}

	fee, err := e.gateway.EstimateFee(ctx, coin, from, to, amount)
	if err != nil {
		return nil, err
	}
	req := wallet.TransferRequest{
		Coin:       coin,
		From:       from,
		Credential: credential,
		To:         to,
		Amount:     amount,
		Fee:        fee,
	}
	if coin.Kind == models.CoinKindAccount {
		nonce, err := e.gateway.GetNextNonce(ctx, coin, from)
		if err != nil {
			return nil, err
		}
		req.Nonce = &nonce
	}

	result, err := e.gateway.SubmitTransfer(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Accepted {
		return nil, ErrTransferRejected
	}
	return result, nil
}

// Withdraw sends part of a user's withdrawable balance to an external
// address. The destination is validated fail-closed before anything moves.
func (e *Engine) Withdraw(ctx context.Context, userID, coinID, to string, amount decimal.Decimal) (*models.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInsufficientBalance
	}
	coin, err := e.store.GetCoin(ctx, coinID)
	if err != nil {
		return nil, err
	}
	free, err := e.ledger.WithdrawableBalance(ctx, userID, coin)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(free) {
		return nil, ErrInsufficientBalance
	}

	valid, err := e.gateway.ValidateAddress(ctx, coin, to)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, wallet.ErrInvalidAddress
	}

	addr, err := e.store.GetAddress(ctx, userID, coin.ID)
	if err != nil {
		return nil, err
	}
	from, err := e.vault.DecryptString(addr.Path)
	if err != nil {
		return nil, err
	}
	credential, err := e.vault.UnlockSigningCredential(addr.Sig)
	if err != nil {
		return nil, err
	}

	fee, err := e.gateway.EstimateFee(ctx, coin, from, to, amount)
	if err != nil {
		return nil, err
	}
	req := wallet.TransferRequest{
		Coin:       coin,
		From:       from,
		Credential: credential,
		To:         to,
		Amount:     amount,
		Fee:        fee,
	}
	if coin.Kind == models.CoinKindAccount {
		nonce, err := e.gateway.GetNextNonce(ctx, coin, from)
		if err != nil {
			return nil, err
		}
		req.Nonce = &nonce
	}

	result, err := e.gateway.SubmitTransfer(ctx, req)
	if err != nil {
		return nil, err
	}
	if !result.Accepted {
		return nil, ErrTransferRejected
	}

	tx := &models.Transaction{
		CoinID: coin.ID,
		UserID: userID,
		Type:   models.TxWithdrawal,
		Amount: amount,
	}
	if err := e.record(ctx, tx, to, result.TxHash); err != nil {
		return nil, err
	}
	zap.L().Info("withdrawal sent",
		zap.String("user_id", userID),
		zap.String("coin", coin.ShortName),
		zap.String("amount", amount.String()))
	e.dispatcher.Dispatch(ctx, notify.WithdrawalCompleted{
		UserID: userID,
		Coin:   coin,
		Amount: amount,
		TxHash: result.TxHash,
	})
	return tx, nil
}

// record persists an audit row with the counterparty and hash encrypted.
func (e *Engine) record(ctx context.Context, tx *models.Transaction, party, txHash string) error {
	encParty, err := e.vault.EncryptString(party)
	if err != nil {
		return err
	}
	encHash, err := e.vault.EncryptString(txHash)
	if err != nil {
		return err
	}
	tx.ID = uuid.NewString()
	tx.Party = encParty
	tx.TxHash = encHash
	tx.CreatedAt = time.Now().UTC()
	return e.store.CreateTransaction(ctx, tx)
}

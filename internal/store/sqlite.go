package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"peertrade/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *SQLite must satisfy Store.
var _ Store = (*SQLite)(nil)

// SQLite is the embedded backend. It doubles as the test backend so the
// service layer exercises real conditional-write semantics.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}

	zap.L().Info("opening sqlite database", zap.String("path", path))
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return s, nil
}

// NewSQLiteWithDB wraps an existing connection; the caller owns its lifetime.
func NewSQLiteWithDB(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("failed to close database", zap.Error(err))
	}
}

func translateSQLiteErr(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func parseDec(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad decimal %q: %w", v, err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Coins

func (s *SQLite) CreateCoin(ctx context.Context, coin *models.Coin) error {
	_, err := s.db.ExecContext(ctx, qInsertCoin,
		coin.ID, coin.Name, coin.Slug, coin.ShortName, string(coin.Kind),
		coin.Price.String(), coin.MarketCap.String(), coin.Volume.String())
	if err != nil {
		return translateSQLiteErr(err)
	}
	return nil
}

func scanCoin(row rowScanner) (*models.Coin, error) {
	var coin models.Coin
	var kind, price, marketCap, volume string
	if err := row.Scan(&coin.ID, &coin.Name, &coin.Slug, &coin.ShortName, &kind, &price, &marketCap, &volume); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	coin.Kind = models.CoinKind(kind)
	var err error
	if coin.Price, err = parseDec(price); err != nil {
		return nil, err
	}
	if coin.MarketCap, err = parseDec(marketCap); err != nil {
		return nil, err
	}
	if coin.Volume, err = parseDec(volume); err != nil {
		return nil, err
	}
	return &coin, nil
}

func (s *SQLite) GetCoin(ctx context.Context, id string) (*models.Coin, error) {
	return scanCoin(s.db.QueryRowContext(ctx, qGetCoin, id))
}

func (s *SQLite) GetCoinByShortName(ctx context.Context, shortName string) (*models.Coin, error) {
	return scanCoin(s.db.QueryRowContext(ctx, qGetCoinByShortName, shortName))
}

func (s *SQLite) ListCoins(ctx context.Context) ([]*models.Coin, error) {
	rows, err := s.db.QueryContext(ctx, qListCoins)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coins []*models.Coin
	for rows.Next() {
		coin, err := scanCoin(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, rows.Err()
}

func (s *SQLite) UpdateCoinPrice(ctx context.Context, id string, price, marketCap, volume decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, qUpdateCoinPrice, price.String(), marketCap.String(), volume.String(), id)
	return err
}

// Users

func (s *SQLite) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, qInsertUser, user.ID, user.Name, user.Email, user.CreatedAt)
	if err != nil {
		return translateSQLiteErr(err)
	}
	return nil
}

func (s *SQLite) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, qGetUser, id).Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Addresses

func (s *SQLite) CreateAddress(ctx context.Context, addr *models.Address) error {
	_, err := s.db.ExecContext(ctx, qInsertAddress,
		addr.ID, addr.UserID, addr.CoinID, addr.Path, addr.Sig, addr.CreatedAt)
	if err != nil {
		return translateSQLiteErr(err)
	}
	return nil
}

func (s *SQLite) GetAddress(ctx context.Context, userID, coinID string) (*models.Address, error) {
	var addr models.Address
	err := s.db.QueryRowContext(ctx, qGetAddress, userID, coinID).Scan(
		&addr.ID, &addr.UserID, &addr.CoinID, &addr.Path, &addr.Sig, &addr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func (s *SQLite) CreatePlatformAddress(ctx context.Context, addr *models.PlatformAddress) error {
	_, err := s.db.ExecContext(ctx, qInsertPlatformAddress,
		addr.ID, addr.CoinID, addr.Path, addr.Sig, addr.CreatedAt)
	if err != nil {
		return translateSQLiteErr(err)
	}
	return nil
}

func (s *SQLite) GetPlatformAddress(ctx context.Context, coinID string) (*models.PlatformAddress, error) {
	var addr models.PlatformAddress
	err := s.db.QueryRowContext(ctx, qGetPlatformAddress, coinID).Scan(
		&addr.ID, &addr.CoinID, &addr.Path, &addr.Sig, &addr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// Offers

func (s *SQLite) CreateOffer(ctx context.Context, offer *models.Offer) error {
	_, err := s.db.ExecContext(ctx, qInsertOffer,
		offer.ID, offer.UserID, offer.CoinID, string(offer.Type),
		offer.Min.String(), offer.Max.String(), offer.Rate.String(),
		string(offer.Status), offer.CreatedAt, offer.UpdatedAt)
	if err != nil {
		return translateSQLiteErr(err)
	}
	return nil
}

func scanOffer(row rowScanner) (*models.Offer, error) {
	var offer models.Offer
	var typ, min, max, rate, status string
	var deletedAt sql.NullTime
	if err := row.Scan(&offer.ID, &offer.UserID, &offer.CoinID, &typ, &min, &max, &rate,
		&status, &offer.CreatedAt, &offer.UpdatedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	offer.Type = models.OfferType(typ)
	offer.Status = models.OfferStatus(status)
	if deletedAt.Valid {
		offer.DeletedAt = &deletedAt.Time
	}
	var err error
	if offer.Min, err = parseDec(min); err != nil {
		return nil, err
	}
	if offer.Max, err = parseDec(max); err != nil {
		return nil, err
	}
	if offer.Rate, err = parseDec(rate); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *SQLite) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	return scanOffer(s.db.QueryRowContext(ctx, qGetOffer, id))
}

func (s *SQLite) ListActiveOffers(ctx context.Context, filter OfferFilter) ([]*models.Offer, int, error) {
	where := "status = 'active' AND deleted_at IS NULL"
	var args []any
	if filter.CoinID != "" {
		where += " AND coin_id = ?"
		args = append(args, filter.CoinID)
	}

	// Total is counted before the price filter, matching the listing meta.
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offers WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if filter.Price != nil {
		// Decimals are stored as text; compare numerically.
		where += " AND CAST(min AS REAL) <= ? AND CAST(max AS REAL) >= ?"
		p, _ := filter.Price.Float64()
		args = append(args, p, p)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + qOfferColumns + " FROM offers WHERE " + where +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, 0, err
		}
		offers = append(offers, offer)
	}
	return offers, total, rows.Err()
}

func (s *SQLite) ListOffersByOwner(ctx context.Context, userID string, offset, limit int) ([]*models.Offer, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, qCountOffersByOwner, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, qListOffersByOwner, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, 0, err
		}
		offers = append(offers, offer)
	}
	return offers, total, rows.Err()
}

func (s *SQLite) ListActiveOffersByOwnerCoin(ctx context.Context, userID, coinID, excludeOfferID string) ([]*models.Offer, error) {
	rows, err := s.db.QueryContext(ctx, qListActiveByOwnerCoin, userID, coinID, excludeOfferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

func (s *SQLite) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) UpdateOfferTerms(ctx context.Context, id string, typ models.OfferType, min, max, rate decimal.Decimal) (bool, error) {
	return s.execAffected(ctx, qUpdateOfferTerms,
		string(typ), min.String(), max.String(), rate.String(), time.Now().UTC(), id)
}

func (s *SQLite) ShrinkOfferMax(ctx context.Context, id string, newMax decimal.Decimal) (bool, error) {
	return s.execAffected(ctx, qShrinkOfferMax, newMax.String(), time.Now().UTC(), id)
}

func (s *SQLite) CloseOffer(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, qCloseOffer, time.Now().UTC(), id)
}

func (s *SQLite) SoftDeleteOffer(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	return s.execAffected(ctx, qSoftDeleteOffer, now, now, id)
}

func (s *SQLite) CountTradesByOffer(ctx context.Context, offerID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, qCountTradesByOffer, offerID).Scan(&n)
	return n, err
}

func (s *SQLite) CountPendingTradesByOffer(ctx context.Context, offerID, excludeTradeID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, qCountPendingByOffer, offerID, excludeTradeID).Scan(&n)
	return n, err
}

// Trades

func (s *SQLite) CreateTrade(ctx context.Context, trade *models.Trade) error {
	_, err := s.db.ExecContext(ctx, qInsertTrade,
		trade.ID, trade.Ref, trade.CoinID, trade.OfferID, trade.BuyerID, trade.SellerID,
		trade.AmountInCoin.String(), trade.AmountInUSD.String(), trade.AmountInNGN.String(),
		trade.FeeInCoin.String(), trade.FeeInUSD.String(), trade.FeeInNGN.String(),
		trade.BuyerTradeState, trade.SellerTradeState, string(trade.Status),
		trade.CoinReleased, trade.FeeReleased, trade.CreatedAt, trade.UpdatedAt)
	if err != nil {
		return translateSQLiteErr(err)
	}
	return nil
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var trade models.Trade
	var amtCoin, amtUSD, amtNGN, feeCoin, feeUSD, feeNGN, status string
	if err := row.Scan(&trade.ID, &trade.Ref, &trade.CoinID, &trade.OfferID, &trade.BuyerID, &trade.SellerID,
		&amtCoin, &amtUSD, &amtNGN, &feeCoin, &feeUSD, &feeNGN,
		&trade.BuyerTradeState, &trade.SellerTradeState, &status,
		&trade.CoinReleased, &trade.FeeReleased, &trade.CreatedAt, &trade.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	trade.Status = models.TradeStatus(status)
	var err error
	if trade.AmountInCoin, err = parseDec(amtCoin); err != nil {
		return nil, err
	}
	if trade.AmountInUSD, err = parseDec(amtUSD); err != nil {
		return nil, err
	}
	if trade.AmountInNGN, err = parseDec(amtNGN); err != nil {
		return nil, err
	}
	if trade.FeeInCoin, err = parseDec(feeCoin); err != nil {
		return nil, err
	}
	if trade.FeeInUSD, err = parseDec(feeUSD); err != nil {
		return nil, err
	}
	if trade.FeeInNGN, err = parseDec(feeNGN); err != nil {
		return nil, err
	}
	return &trade, nil
}

func (s *SQLite) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return scanTrade(s.db.QueryRowContext(ctx, qGetTrade, id))
}

func (s *SQLite) GetTradeByRef(ctx context.Context, ref string) (*models.Trade, error) {
	return scanTrade(s.db.QueryRowContext(ctx, qGetTradeByRef, ref))
}

func (s *SQLite) TradeRefExists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, qTradeRefExists, ref).Scan(&exists)
	return exists, err
}

func (s *SQLite) ListTradesByUser(ctx context.Context, userID string, filter TradeFilter) ([]*models.Trade, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, qCountTradesUser, userID, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := qListTradesUser
	args := []any{userID, userID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, 0, err
		}
		trades = append(trades, trade)
	}
	return trades, total, rows.Err()
}

func (s *SQLite) listTrades(ctx context.Context, query string, args ...any) ([]*models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (s *SQLite) ListRunningTradesByOffer(ctx context.Context, offerID string) ([]*models.Trade, error) {
	return s.listTrades(ctx, qListRunningByOffer, offerID)
}

func (s *SQLite) ListLockedSellerTrades(ctx context.Context, sellerID, coinID string) ([]*models.Trade, error) {
	return s.listTrades(ctx, qListLockedBySeller, sellerID, coinID)
}

func (s *SQLite) ListUnsettledTrades(ctx context.Context, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listTrades(ctx, qListUnsettled, limit)
}

func (s *SQLite) AcceptTrade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, qAcceptTrade, time.Now().UTC(), id)
}

func (s *SQLite) MarkPaymentMade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, qMarkPaymentMade, time.Now().UTC(), id)
}

func (s *SQLite) ConfirmTrade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, qConfirmTrade, time.Now().UTC(), id)
}

func (s *SQLite) CancelTrade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, qCancelTrade, time.Now().UTC(), id)
}

func (s *SQLite) MarkCoinReleased(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, qMarkCoinReleased, time.Now().UTC(), id)
}

func (s *SQLite) MarkFeeReleased(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, qMarkFeeReleased, time.Now().UTC(), id)
}

// Transactions

func (s *SQLite) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	var tradeID sql.NullString
	if tx.TradeID != nil {
		tradeID = sql.NullString{String: *tx.TradeID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, qInsertTransaction,
		tx.ID, tx.CoinID, tx.UserID, tradeID, string(tx.Type),
		tx.Amount.String(), tx.Party, tx.TxHash, tx.CreatedAt)
	if err != nil {
		return translateSQLiteErr(err)
	}
	return nil
}

func (s *SQLite) ListTransactions(ctx context.Context, userID, coinID string, offset, limit int) ([]*models.Transaction, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, qCountTransactions, userID, coinID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, qListTransactions, userID, coinID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var tradeID sql.NullString
		var typ, amount string
		if err := rows.Scan(&tx.ID, &tx.CoinID, &tx.UserID, &tradeID, &typ, &amount,
			&tx.Party, &tx.TxHash, &tx.CreatedAt); err != nil {
			return nil, 0, err
		}
		if tradeID.Valid {
			tx.TradeID = &tradeID.String
		}
		tx.Type = models.TransactionType(typ)
		if tx.Amount, err = parseDec(amount); err != nil {
			return nil, 0, err
		}
		txs = append(txs, &tx)
	}
	return txs, total, rows.Err()
}

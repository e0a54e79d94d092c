package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"peertrade/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Compile-time check: *Postgres must satisfy Store.
var _ Store = (*Postgres)(nil)

// Postgres is the production backend.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func translatePgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const pgCoinColumns = `id, name, slug, short_name, kind, price::text, market_cap::text, volume::text`

func (s *Postgres) CreateCoin(ctx context.Context, coin *models.Coin) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO coins (id, name, slug, short_name, kind, price, market_cap, volume)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, coin.ID, coin.Name, coin.Slug, coin.ShortName, string(coin.Kind),
		coin.Price.String(), coin.MarketCap.String(), coin.Volume.String())
	return translatePgErr(err)
}

func (s *Postgres) scanCoinRow(row pgx.Row) (*models.Coin, error) {
	var coin models.Coin
	var kind, price, marketCap, volume string
	if err := row.Scan(&coin.ID, &coin.Name, &coin.Slug, &coin.ShortName, &kind, &price, &marketCap, &volume); err != nil {
		return nil, notFound(err)
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

func (s *Postgres) GetCoin(ctx context.Context, id string) (*models.Coin, error) {
	return s.scanCoinRow(s.Pool.QueryRow(ctx, `SELECT `+pgCoinColumns+` FROM coins WHERE id=$1`, id))
}

func (s *Postgres) GetCoinByShortName(ctx context.Context, shortName string) (*models.Coin, error) {
	return s.scanCoinRow(s.Pool.QueryRow(ctx, `SELECT `+pgCoinColumns+` FROM coins WHERE short_name=$1`, shortName))
}

func (s *Postgres) ListCoins(ctx context.Context) ([]*models.Coin, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+pgCoinColumns+` FROM coins ORDER BY short_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coins []*models.Coin
	for rows.Next() {
		coin, err := s.scanCoinRow(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, rows.Err()
}

func (s *Postgres) UpdateCoinPrice(ctx context.Context, id string, price, marketCap, volume decimal.Decimal) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE coins SET price=$2, market_cap=$3, volume=$4 WHERE id=$1
	`, id, price.String(), marketCap.String(), volume.String())
	return err
}

func (s *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (id, name, email, created_at) VALUES ($1,$2,$3,$4)
	`, user.ID, user.Name, user.Email, user.CreatedAt)
	return translatePgErr(err)
}

func (s *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.Pool.QueryRow(ctx, `SELECT id, name, email, created_at FROM users WHERE id=$1`, id).
		Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Postgres) CreateAddress(ctx context.Context, addr *models.Address) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO addresses (id, user_id, coin_id, pth, sig, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, addr.ID, addr.UserID, addr.CoinID, addr.Path, addr.Sig, addr.CreatedAt)
	return translatePgErr(err)
}

func (s *Postgres) GetAddress(ctx context.Context, userID, coinID string) (*models.Address, error) {
	var addr models.Address
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, coin_id, pth, sig, created_at
		FROM addresses WHERE user_id=$1 AND coin_id=$2
	`, userID, coinID).Scan(&addr.ID, &addr.UserID, &addr.CoinID, &addr.Path, &addr.Sig, &addr.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &addr, nil
}

func (s *Postgres) CreatePlatformAddress(ctx context.Context, addr *models.PlatformAddress) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO platform_addresses (id, coin_id, pth, sig, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, addr.ID, addr.CoinID, addr.Path, addr.Sig, addr.CreatedAt)
	return translatePgErr(err)
}

func (s *Postgres) GetPlatformAddress(ctx context.Context, coinID string) (*models.PlatformAddress, error) {
	var addr models.PlatformAddress
	err := s.Pool.QueryRow(ctx, `
		SELECT id, coin_id, pth, sig, created_at FROM platform_addresses WHERE coin_id=$1
	`, coinID).Scan(&addr.ID, &addr.CoinID, &addr.Path, &addr.Sig, &addr.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &addr, nil
}

const pgOfferColumns = `id, user_id, coin_id, type, min::text, max::text, rate::text, status, created_at, updated_at, deleted_at`

func (s *Postgres) CreateOffer(ctx context.Context, offer *models.Offer) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO offers (id, user_id, coin_id, type, min, max, rate, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, offer.ID, offer.UserID, offer.CoinID, string(offer.Type),
		offer.Min.String(), offer.Max.String(), offer.Rate.String(),
		string(offer.Status), offer.CreatedAt, offer.UpdatedAt)
	return translatePgErr(err)
}

func (s *Postgres) scanOfferRow(row pgx.Row) (*models.Offer, error) {
	var offer models.Offer
	var typ, min, max, rate, status string
	var deletedAt *time.Time
	if err := row.Scan(&offer.ID, &offer.UserID, &offer.CoinID, &typ, &min, &max, &rate,
		&status, &offer.CreatedAt, &offer.UpdatedAt, &deletedAt); err != nil {
		return nil, notFound(err)
	}
	offer.Type = models.OfferType(typ)
	offer.Status = models.OfferStatus(status)
	offer.DeletedAt = deletedAt
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

func (s *Postgres) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	return s.scanOfferRow(s.Pool.QueryRow(ctx, `
		SELECT `+pgOfferColumns+` FROM offers WHERE id=$1 AND deleted_at IS NULL
	`, id))
}

func (s *Postgres) ListActiveOffers(ctx context.Context, filter OfferFilter) ([]*models.Offer, int, error) {
	where := `status='active' AND deleted_at IS NULL`
	var args []any
	if filter.CoinID != "" {
		args = append(args, filter.CoinID)
		where += ` AND coin_id=$1`
	}

	var total int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM offers WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if filter.Price != nil {
		n := len(args)
		args = append(args, filter.Price.String())
		where += ` AND min <= $` + itoa(n+1) + ` AND max >= $` + itoa(n+1)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	n := len(args)
	args = append(args, limit, filter.Offset)
	query := `SELECT ` + pgOfferColumns + ` FROM offers WHERE ` + where +
		` ORDER BY created_at DESC LIMIT $` + itoa(n+1) + ` OFFSET $` + itoa(n+2)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := s.scanOfferRow(rows)
		if err != nil {
			return nil, 0, err
		}
		offers = append(offers, offer)
	}
	return offers, total, rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func (s *Postgres) ListOffersByOwner(ctx context.Context, userID string, offset, limit int) ([]*models.Offer, int, error) {
	var total int
	if err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM offers WHERE user_id=$1 AND deleted_at IS NULL
	`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+pgOfferColumns+` FROM offers
		WHERE user_id=$1 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := s.scanOfferRow(rows)
		if err != nil {
			return nil, 0, err
		}
		offers = append(offers, offer)
	}
	return offers, total, rows.Err()
}

func (s *Postgres) ListActiveOffersByOwnerCoin(ctx context.Context, userID, coinID, excludeOfferID string) ([]*models.Offer, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+pgOfferColumns+` FROM offers
		WHERE user_id=$1 AND coin_id=$2 AND status='active' AND deleted_at IS NULL AND id<>$3
	`, userID, coinID, excludeOfferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		offer, err := s.scanOfferRow(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

func (s *Postgres) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Postgres) UpdateOfferTerms(ctx context.Context, id string, typ models.OfferType, min, max, rate decimal.Decimal) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE offers SET type=$2, min=$3, max=$4, rate=$5, updated_at=now()
		WHERE id=$1 AND status='active' AND deleted_at IS NULL
	`, id, string(typ), min.String(), max.String(), rate.String())
}

func (s *Postgres) ShrinkOfferMax(ctx context.Context, id string, newMax decimal.Decimal) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE offers SET max=$2, updated_at=now()
		WHERE id=$1 AND status='active' AND deleted_at IS NULL
	`, id, newMax.String())
}

func (s *Postgres) CloseOffer(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE offers SET status='closed', updated_at=now()
		WHERE id=$1 AND status='active' AND deleted_at IS NULL
	`, id)
}

func (s *Postgres) SoftDeleteOffer(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE offers SET deleted_at=now(), updated_at=now()
		WHERE id=$1 AND deleted_at IS NULL
	`, id)
}

func (s *Postgres) CountTradesByOffer(ctx context.Context, offerID string) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE offer_id=$1`, offerID).Scan(&n)
	return n, err
}

func (s *Postgres) CountPendingTradesByOffer(ctx context.Context, offerID, excludeTradeID string) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trades WHERE offer_id=$1 AND status='pending' AND id<>$2
	`, offerID, excludeTradeID).Scan(&n)
	return n, err
}

const pgTradeColumns = `id, ref, coin_id, offer_id, buyer_id, seller_id,
	amount_in_coin::text, amount_in_usd::text, amount_in_ngn::text,
	fee_in_coin::text, fee_in_usd::text, fee_in_ngn::text,
	buyer_trade_state, seller_trade_state, status, coin_released, fee_released, created_at, updated_at`

func (s *Postgres) CreateTrade(ctx context.Context, trade *models.Trade) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO trades (
			id, ref, coin_id, offer_id, buyer_id, seller_id,
			amount_in_coin, amount_in_usd, amount_in_ngn,
			fee_in_coin, fee_in_usd, fee_in_ngn,
			buyer_trade_state, seller_trade_state, status,
			coin_released, fee_released, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		trade.ID, trade.Ref, trade.CoinID, trade.OfferID, trade.BuyerID, trade.SellerID,
		trade.AmountInCoin.String(), trade.AmountInUSD.String(), trade.AmountInNGN.String(),
		trade.FeeInCoin.String(), trade.FeeInUSD.String(), trade.FeeInNGN.String(),
		trade.BuyerTradeState, trade.SellerTradeState, string(trade.Status),
		trade.CoinReleased, trade.FeeReleased, trade.CreatedAt, trade.UpdatedAt)
	return translatePgErr(err)
}

func (s *Postgres) scanTradeRow(row pgx.Row) (*models.Trade, error) {
	var trade models.Trade
	var amtCoin, amtUSD, amtNGN, feeCoin, feeUSD, feeNGN, status string
	if err := row.Scan(&trade.ID, &trade.Ref, &trade.CoinID, &trade.OfferID, &trade.BuyerID, &trade.SellerID,
		&amtCoin, &amtUSD, &amtNGN, &feeCoin, &feeUSD, &feeNGN,
		&trade.BuyerTradeState, &trade.SellerTradeState, &status,
		&trade.CoinReleased, &trade.FeeReleased, &trade.CreatedAt, &trade.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	trade.Status = models.TradeStatus(status)
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&trade.AmountInCoin, amtCoin}, {&trade.AmountInUSD, amtUSD}, {&trade.AmountInNGN, amtNGN},
		{&trade.FeeInCoin, feeCoin}, {&trade.FeeInUSD, feeUSD}, {&trade.FeeInNGN, feeNGN},
	} {
		d, err := parseDec(pair.src)
		if err != nil {
			return nil, err
		}
		*pair.dst = d
	}
	return &trade, nil
}

func (s *Postgres) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return s.scanTradeRow(s.Pool.QueryRow(ctx, `SELECT `+pgTradeColumns+` FROM trades WHERE id=$1`, id))
}

func (s *Postgres) GetTradeByRef(ctx context.Context, ref string) (*models.Trade, error) {
	return s.scanTradeRow(s.Pool.QueryRow(ctx, `SELECT `+pgTradeColumns+` FROM trades WHERE ref=$1`, ref))
}

func (s *Postgres) TradeRefExists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE ref=$1)`, ref).Scan(&exists)
	return exists, err
}

func (s *Postgres) ListTradesByUser(ctx context.Context, userID string, filter TradeFilter) ([]*models.Trade, int, error) {
	var total int
	if err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trades WHERE buyer_id=$1 OR seller_id=$1
	`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + pgTradeColumns + ` FROM trades WHERE (buyer_id=$1 OR seller_id=$1)`
	args := []any{userID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status=$2`
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	n := len(args)
	args = append(args, limit, filter.Offset)
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(n+1) + ` OFFSET $` + itoa(n+2)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade, err := s.scanTradeRow(rows)
		if err != nil {
			return nil, 0, err
		}
		trades = append(trades, trade)
	}
	return trades, total, rows.Err()
}

func (s *Postgres) listTrades(ctx context.Context, query string, args ...any) ([]*models.Trade, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade, err := s.scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (s *Postgres) ListRunningTradesByOffer(ctx context.Context, offerID string) ([]*models.Trade, error) {
	return s.listTrades(ctx, `
		SELECT `+pgTradeColumns+` FROM trades
		WHERE offer_id=$1 AND status<>'cancelled' AND coin_released=false
	`, offerID)
}

func (s *Postgres) ListLockedSellerTrades(ctx context.Context, sellerID, coinID string) ([]*models.Trade, error) {
	return s.listTrades(ctx, `
		SELECT `+pgTradeColumns+` FROM trades
		WHERE seller_id=$1 AND coin_id=$2 AND status<>'cancelled' AND coin_released=false
	`, sellerID, coinID)
}

func (s *Postgres) ListUnsettledTrades(ctx context.Context, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listTrades(ctx, `
		SELECT `+pgTradeColumns+` FROM trades
		WHERE status='successful' AND (coin_released=false OR fee_released=false)
		ORDER BY updated_at LIMIT $1
	`, limit)
}

func (s *Postgres) AcceptTrade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE trades SET seller_trade_state=1, updated_at=now()
		WHERE id=$1 AND status='pending' AND seller_trade_state=0
	`, id)
}

func (s *Postgres) MarkPaymentMade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE trades SET buyer_trade_state=2, updated_at=now()
		WHERE id=$1 AND status='pending' AND buyer_trade_state=1 AND seller_trade_state=1
	`, id)
}

func (s *Postgres) ConfirmTrade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE trades SET seller_trade_state=2, status='successful', updated_at=now()
		WHERE id=$1 AND status='pending' AND buyer_trade_state=2 AND seller_trade_state=1
	`, id)
}

func (s *Postgres) CancelTrade(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE trades SET status='cancelled', updated_at=now()
		WHERE id=$1 AND status='pending' AND seller_trade_state<>2
	`, id)
}

func (s *Postgres) MarkCoinReleased(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE trades SET coin_released=true, updated_at=now()
		WHERE id=$1 AND coin_released=false
	`, id)
}

func (s *Postgres) MarkFeeReleased(ctx context.Context, id string) (bool, error) {
	return s.execAffected(ctx, `
		UPDATE trades SET fee_released=true, updated_at=now()
		WHERE id=$1 AND fee_released=false
	`, id)
}

func (s *Postgres) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO transactions (id, coin_id, user_id, trade_id, type, amount, party, tx_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, tx.ID, tx.CoinID, tx.UserID, tx.TradeID, string(tx.Type),
		tx.Amount.String(), tx.Party, tx.TxHash, tx.CreatedAt)
	return translatePgErr(err)
}

func (s *Postgres) ListTransactions(ctx context.Context, userID, coinID string, offset, limit int) ([]*models.Transaction, int, error) {
	var total int
	if err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions WHERE user_id=$1 AND coin_id=$2
	`, userID, coinID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, coin_id, user_id, trade_id, type, amount::text, party, tx_hash, created_at
		FROM transactions WHERE user_id=$1 AND coin_id=$2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, userID, coinID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var typ, amount string
		if err := rows.Scan(&tx.ID, &tx.CoinID, &tx.UserID, &tx.TradeID, &typ, &amount,
			&tx.Party, &tx.TxHash, &tx.CreatedAt); err != nil {
			return nil, 0, err
		}
		tx.Type = models.TransactionType(typ)
		amt, err := parseDec(amount)
		if err != nil {
			return nil, 0, err
		}
		tx.Amount = amt
		txs = append(txs, &tx)
	}
	return txs, total, rows.Err()
}

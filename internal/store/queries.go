package store

// SQLite query text. The Postgres backend carries its own statements with
// positional placeholders.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS coins (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL,
	short_name TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL DEFAULT 'utxo',
	price TEXT NOT NULL DEFAULT '0',
	market_cap TEXT NOT NULL DEFAULT '0',
	volume TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS addresses (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	coin_id TEXT NOT NULL REFERENCES coins(id),
	pth TEXT NOT NULL,
	sig TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (user_id, coin_id)
);

CREATE TABLE IF NOT EXISTS platform_addresses (
	id TEXT PRIMARY KEY,
	coin_id TEXT NOT NULL UNIQUE REFERENCES coins(id),
	pth TEXT NOT NULL,
	sig TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS offers (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	coin_id TEXT NOT NULL REFERENCES coins(id),
	type TEXT NOT NULL,
	min TEXT NOT NULL,
	max TEXT NOT NULL,
	rate TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_offers_owner_coin ON offers(user_id, coin_id, status);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	ref TEXT NOT NULL UNIQUE,
	coin_id TEXT NOT NULL REFERENCES coins(id),
	offer_id TEXT NOT NULL REFERENCES offers(id),
	buyer_id TEXT NOT NULL REFERENCES users(id),
	seller_id TEXT NOT NULL REFERENCES users(id),
	amount_in_coin TEXT NOT NULL,
	amount_in_usd TEXT NOT NULL,
	amount_in_ngn TEXT NOT NULL,
	fee_in_coin TEXT NOT NULL,
	fee_in_usd TEXT NOT NULL,
	fee_in_ngn TEXT NOT NULL,
	buyer_trade_state INTEGER NOT NULL DEFAULT 1,
	seller_trade_state INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	coin_released INTEGER NOT NULL DEFAULT 0,
	fee_released INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_offer ON trades(offer_id, status);
CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller_id, coin_id, status);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	coin_id TEXT NOT NULL REFERENCES coins(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	trade_id TEXT,
	type TEXT NOT NULL,
	amount TEXT NOT NULL,
	party TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_coin ON transactions(user_id, coin_id);
`

const (
	qCoinColumns = `id, name, slug, short_name, kind, price, market_cap, volume`

	qGetCoin            = `SELECT ` + qCoinColumns + ` FROM coins WHERE id = ?`
	qGetCoinByShortName = `SELECT ` + qCoinColumns + ` FROM coins WHERE short_name = ?`
	qListCoins          = `SELECT ` + qCoinColumns + ` FROM coins ORDER BY short_name`
	qInsertCoin         = `INSERT INTO coins (` + qCoinColumns + `) VALUES (?,?,?,?,?,?,?,?)`
	qUpdateCoinPrice    = `UPDATE coins SET price = ?, market_cap = ?, volume = ? WHERE id = ?`

	qInsertUser = `INSERT INTO users (id, name, email, created_at) VALUES (?,?,?,?)`
	qGetUser    = `SELECT id, name, email, created_at FROM users WHERE id = ?`

	qInsertAddress = `INSERT INTO addresses (id, user_id, coin_id, pth, sig, created_at) VALUES (?,?,?,?,?,?)`
	qGetAddress    = `SELECT id, user_id, coin_id, pth, sig, created_at FROM addresses
		WHERE user_id = ? AND coin_id = ?`

	qInsertPlatformAddress = `INSERT INTO platform_addresses (id, coin_id, pth, sig, created_at) VALUES (?,?,?,?,?)`
	qGetPlatformAddress    = `SELECT id, coin_id, pth, sig, created_at FROM platform_addresses WHERE coin_id = ?`

	qOfferColumns = `id, user_id, coin_id, type, min, max, rate, status, created_at, updated_at, deleted_at`

	qInsertOffer = `INSERT INTO offers (id, user_id, coin_id, type, min, max, rate, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`
	qGetOffer = `SELECT ` + qOfferColumns + ` FROM offers WHERE id = ? AND deleted_at IS NULL`

	qListOffersByOwner      = `SELECT ` + qOfferColumns + ` FROM offers WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at DESC LIMIT ? OFFSET ?`
	qCountOffersByOwner     = `SELECT COUNT(*) FROM offers WHERE user_id = ? AND deleted_at IS NULL`
	qListActiveByOwnerCoin  = `SELECT ` + qOfferColumns + ` FROM offers WHERE user_id = ? AND coin_id = ? AND status = 'active' AND deleted_at IS NULL AND id <> ?`
	qUpdateOfferTerms       = `UPDATE offers SET type = ?, min = ?, max = ?, rate = ?, updated_at = ? WHERE id = ? AND status = 'active' AND deleted_at IS NULL`
	qShrinkOfferMax         = `UPDATE offers SET max = ?, updated_at = ? WHERE id = ? AND status = 'active' AND deleted_at IS NULL`
	qCloseOffer             = `UPDATE offers SET status = 'closed', updated_at = ? WHERE id = ? AND status = 'active' AND deleted_at IS NULL`
	qSoftDeleteOffer        = `UPDATE offers SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
	qCountTradesByOffer     = `SELECT COUNT(*) FROM trades WHERE offer_id = ?`
	qCountPendingByOffer    = `SELECT COUNT(*) FROM trades WHERE offer_id = ? AND status = 'pending' AND id <> ?`

	qTradeColumns = `id, ref, coin_id, offer_id, buyer_id, seller_id,
		amount_in_coin, amount_in_usd, amount_in_ngn, fee_in_coin, fee_in_usd, fee_in_ngn,
		buyer_trade_state, seller_trade_state, status, coin_released, fee_released, created_at, updated_at`

	qInsertTrade = `INSERT INTO trades (id, ref, coin_id, offer_id, buyer_id, seller_id,
		amount_in_coin, amount_in_usd, amount_in_ngn, fee_in_coin, fee_in_usd, fee_in_ngn,
		buyer_trade_state, seller_trade_state, status, coin_released, fee_released, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	qGetTrade        = `SELECT ` + qTradeColumns + ` FROM trades WHERE id = ?`
	qGetTradeByRef   = `SELECT ` + qTradeColumns + ` FROM trades WHERE ref = ?`
	qTradeRefExists  = `SELECT EXISTS (SELECT 1 FROM trades WHERE ref = ?)`
	qListTradesUser  = `SELECT ` + qTradeColumns + ` FROM trades WHERE (buyer_id = ? OR seller_id = ?)`
	qCountTradesUser = `SELECT COUNT(*) FROM trades WHERE (buyer_id = ? OR seller_id = ?)`

	qListRunningByOffer = `SELECT ` + qTradeColumns + ` FROM trades
		WHERE offer_id = ? AND status <> 'cancelled' AND coin_released = 0`
	qListLockedBySeller = `SELECT ` + qTradeColumns + ` FROM trades
		WHERE seller_id = ? AND coin_id = ? AND status <> 'cancelled' AND coin_released = 0`
	qListUnsettled = `SELECT ` + qTradeColumns + ` FROM trades
		WHERE status = 'successful' AND (coin_released = 0 OR fee_released = 0)
		ORDER BY updated_at LIMIT ?`

	qAcceptTrade = `UPDATE trades SET seller_trade_state = 1, updated_at = ?
		WHERE id = ? AND status = 'pending' AND seller_trade_state = 0`
	qMarkPaymentMade = `UPDATE trades SET buyer_trade_state = 2, updated_at = ?
		WHERE id = ? AND status = 'pending' AND buyer_trade_state = 1 AND seller_trade_state = 1`
	qConfirmTrade = `UPDATE trades SET seller_trade_state = 2, status = 'successful', updated_at = ?
		WHERE id = ? AND status = 'pending' AND buyer_trade_state = 2 AND seller_trade_state = 1`
	qCancelTrade = `UPDATE trades SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'pending' AND seller_trade_state <> 2`
	qMarkCoinReleased = `UPDATE trades SET coin_released = 1, updated_at = ?
		WHERE id = ? AND coin_released = 0`
	qMarkFeeReleased = `UPDATE trades SET fee_released = 1, updated_at = ?
		WHERE id = ? AND fee_released = 0`

	qInsertTransaction = `INSERT INTO transactions (id, coin_id, user_id, trade_id, type, amount, party, tx_hash, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`
	qListTransactions = `SELECT id, coin_id, user_id, trade_id, type, amount, party, tx_hash, created_at
		FROM transactions WHERE user_id = ? AND coin_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	qCountTransactions = `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND coin_id = ?`
)

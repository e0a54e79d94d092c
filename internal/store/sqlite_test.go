package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"peertrade/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := NewSQLiteWithDB(db)
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return st
}

func seedCoin(t *testing.T, st *SQLite) *models.Coin {
	t.Helper()
	coin := &models.Coin{
		ID:        "btc",
		Name:      "Bitcoin",
		Slug:      "bitcoin",
		ShortName: "BTC",
		Kind:      models.CoinKindUTXO,
		Price:     decimal.NewFromInt(500),
	}
	if err := st.CreateCoin(context.Background(), coin); err != nil {
		t.Fatalf("create coin: %v", err)
	}
	return coin
}

func seedUser(t *testing.T, st *SQLite, email string) *models.User {
	t.Helper()
	user := &models.User{
		ID:        uuid.NewString(),
		Name:      "Test User",
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func seedOffer(t *testing.T, st *SQLite, userID, coinID string) *models.Offer {
	t.Helper()
	now := time.Now().UTC()
	offer := &models.Offer{
		ID:        uuid.NewString(),
		UserID:    userID,
		CoinID:    coinID,
		Type:      models.OfferTypeNaira,
		Min:       decimal.NewFromInt(100),
		Max:       decimal.NewFromInt(1000),
		Rate:      decimal.NewFromInt(500),
		Status:    models.OfferActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateOffer(context.Background(), offer); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offer
}

func seedTrade(t *testing.T, st *SQLite, offer *models.Offer, buyerID string) *models.Trade {
	t.Helper()
	now := time.Now().UTC()
	trade := &models.Trade{
		ID:               uuid.NewString(),
		Ref:              uuid.NewString()[:12],
		CoinID:           offer.CoinID,
		OfferID:          offer.ID,
		BuyerID:          buyerID,
		SellerID:         offer.UserID,
		AmountInCoin:     decimal.RequireFromString("0.002"),
		AmountInUSD:      decimal.NewFromInt(1),
		AmountInNGN:      decimal.NewFromInt(500),
		FeeInCoin:        decimal.RequireFromString("0.00002"),
		FeeInUSD:         decimal.RequireFromString("0.01"),
		FeeInNGN:         decimal.NewFromInt(5),
		BuyerTradeState:  models.StateAccepted,
		SellerTradeState: models.StateNone,
		Status:           models.TradePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := st.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("create trade: %v", err)
	}
	return trade
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	st := newTestStore(t)
	seedUser(t, st, "dup@example.com")
	err := st.CreateUser(context.Background(), &models.User{
		ID:        uuid.NewString(),
		Name:      "Other",
		Email:     "dup@example.com",
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetCoinNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.GetCoin(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptTradeWinsOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	ok, err := st.AcceptTrade(ctx, trade.ID)
	if err != nil || !ok {
		t.Fatalf("first accept: ok=%v err=%v", ok, err)
	}
	ok, err = st.AcceptTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("second accept errored: %v", err)
	}
	if ok {
		t.Error("second accept claimed the transition again")
	}
}

func TestPaymentMadeRequiresAcceptedSeller(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	ok, err := st.MarkPaymentMade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("mark payment made: %v", err)
	}
	if ok {
		t.Error("payment made succeeded before seller accepted")
	}

	got, err := st.GetTrade(ctx, trade.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if got.BuyerTradeState != models.StateAccepted || got.SellerTradeState != models.StateNone {
		t.Errorf("states mutated: buyer=%d seller=%d", got.BuyerTradeState, got.SellerTradeState)
	}
}

func TestFullTransitionChain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	if ok, _ := st.AcceptTrade(ctx, trade.ID); !ok {
		t.Fatal("accept lost")
	}
	if ok, _ := st.MarkPaymentMade(ctx, trade.ID); !ok {
		t.Fatal("payment made lost")
	}
	if ok, _ := st.ConfirmTrade(ctx, trade.ID); !ok {
		t.Fatal("confirm lost")
	}

	got, _ := st.GetTrade(ctx, trade.ID)
	if got.Status != models.TradeSuccessful {
		t.Errorf("expected successful, got %s", got.Status)
	}
	if got.BuyerTradeState != models.StateConfirmed || got.SellerTradeState != models.StateConfirmed {
		t.Errorf("expected 2/2, got %d/%d", got.BuyerTradeState, got.SellerTradeState)
	}

	// Cancel is closed off once the seller confirmed.
	if ok, _ := st.CancelTrade(ctx, trade.ID); ok {
		t.Error("cancel succeeded on a successful trade")
	}
}

func TestConfirmRequiresPaymentMade(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	if ok, _ := st.AcceptTrade(ctx, trade.ID); !ok {
		t.Fatal("accept lost")
	}
	if ok, _ := st.ConfirmTrade(ctx, trade.ID); ok {
		t.Error("confirm succeeded before payment made")
	}
}

func TestCancelPendingTrade(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	if ok, _ := st.CancelTrade(ctx, trade.ID); !ok {
		t.Fatal("cancel lost on a fresh pending trade")
	}
	// All transitions are closed on a cancelled trade.
	if ok, _ := st.AcceptTrade(ctx, trade.ID); ok {
		t.Error("accept succeeded on a cancelled trade")
	}
	if ok, _ := st.CancelTrade(ctx, trade.ID); ok {
		t.Error("double cancel succeeded")
	}
}

func TestReleaseFlagsClaimOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	if ok, _ := st.MarkCoinReleased(ctx, trade.ID); !ok {
		t.Fatal("first coin release claim lost")
	}
	if ok, _ := st.MarkCoinReleased(ctx, trade.ID); ok {
		t.Error("second coin release claim succeeded")
	}
	if ok, _ := st.MarkFeeReleased(ctx, trade.ID); !ok {
		t.Fatal("first fee release claim lost")
	}
	if ok, _ := st.MarkFeeReleased(ctx, trade.ID); ok {
		t.Error("second fee release claim succeeded")
	}
}

func TestListUnsettledTrades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	if list, _ := st.ListUnsettledTrades(ctx, 10); len(list) != 0 {
		t.Fatalf("pending trade listed as unsettled: %d", len(list))
	}

	st.AcceptTrade(ctx, trade.ID)
	st.MarkPaymentMade(ctx, trade.ID)
	st.ConfirmTrade(ctx, trade.ID)

	list, err := st.ListUnsettledTrades(ctx, 10)
	if err != nil {
		t.Fatalf("list unsettled: %v", err)
	}
	if len(list) != 1 || list[0].ID != trade.ID {
		t.Fatalf("expected the confirmed trade, got %d rows", len(list))
	}

	st.MarkCoinReleased(ctx, trade.ID)
	if list, _ := st.ListUnsettledTrades(ctx, 10); len(list) != 1 {
		t.Errorf("half-settled trade should stay listed, got %d rows", len(list))
	}
	st.MarkFeeReleased(ctx, trade.ID)
	if list, _ := st.ListUnsettledTrades(ctx, 10); len(list) != 0 {
		t.Errorf("fully settled trade still listed: %d rows", len(list))
	}
}

func TestSoftDeletedOfferHidden(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)

	if ok, _ := st.SoftDeleteOffer(ctx, offer.ID); !ok {
		t.Fatal("soft delete lost")
	}
	if _, err := st.GetOffer(ctx, offer.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after soft delete, got %v", err)
	}
	if ok, _ := st.SoftDeleteOffer(ctx, offer.ID); ok {
		t.Error("double soft delete succeeded")
	}
}

func TestListActiveOffersExcludesClosedAndDeleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	active := seedOffer(t, st, seller.ID, coin.ID)
	closed := seedOffer(t, st, seller.ID, coin.ID)
	deleted := seedOffer(t, st, seller.ID, coin.ID)
	st.CloseOffer(ctx, closed.ID)
	st.SoftDeleteOffer(ctx, deleted.ID)

	list, total, err := st.ListActiveOffers(ctx, OfferFilter{CoinID: coin.ID})
	if err != nil {
		t.Fatalf("list active offers: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != active.ID {
		t.Errorf("expected only the active offer, got total=%d len=%d", total, len(list))
	}
}

func TestListActiveOffersPriceFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	seedOffer(t, st, seller.ID, coin.ID) // min 100, max 1000

	inRange := decimal.NewFromInt(500)
	list, _, err := st.ListActiveOffers(ctx, OfferFilter{CoinID: coin.ID, Price: &inRange})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected offer to match in-range price, got %d", len(list))
	}

	outOfRange := decimal.NewFromInt(5000)
	list, _, err = st.ListActiveOffers(ctx, OfferFilter{CoinID: coin.ID, Price: &outOfRange})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no offers above max, got %d", len(list))
	}
}

func TestTradeRefExists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)
	seller := seedUser(t, st, "seller@example.com")
	buyer := seedUser(t, st, "buyer@example.com")
	offer := seedOffer(t, st, seller.ID, coin.ID)
	trade := seedTrade(t, st, offer, buyer.ID)

	exists, err := st.TradeRefExists(ctx, trade.Ref)
	if err != nil || !exists {
		t.Errorf("expected ref to exist: exists=%v err=%v", exists, err)
	}
	exists, err = st.TradeRefExists(ctx, "000000000000")
	if err != nil || exists {
		t.Errorf("expected ref to be free: exists=%v err=%v", exists, err)
	}
}

package trades

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"peertrade/internal/ledger"
	"peertrade/internal/models"
	"peertrade/internal/notify"
	"peertrade/internal/offers"
	"peertrade/internal/store"
	"peertrade/internal/wallet"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type fakeGateway struct {
	balances map[string]decimal.Decimal
}

func (g *fakeGateway) GenerateAddress(ctx context.Context, coin *models.Coin) (*wallet.GeneratedAddress, error) {
	return &wallet.GeneratedAddress{Address: "addr", Credential: "wif"}, nil
}

func (g *fakeGateway) GetBalance(ctx context.Context, coin *models.Coin, address string) (decimal.Decimal, error) {
	return g.balances[address], nil
}

func (g *fakeGateway) ValidateAddress(ctx context.Context, coin *models.Coin, address string) (bool, error) {
	return true, nil
}

func (g *fakeGateway) EstimateFee(ctx context.Context, coin *models.Coin, from, to string, amount decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *fakeGateway) GetNextNonce(ctx context.Context, coin *models.Coin, address string) (int64, error) {
	return 1, nil
}

func (g *fakeGateway) SubmitTransfer(ctx context.Context, req wallet.TransferRequest) (*wallet.TransferResult, error) {
	return &wallet.TransferResult{Accepted: true, TxHash: "hash"}, nil
}

type fixture struct {
	store   *store.SQLite
	vault   *wallet.Vault
	gateway *fakeGateway
	offers  *offers.Service
	svc     *Service
	coin    *models.Coin
	seller  *models.User
	buyer   *models.User
}

// Coin price 500 USD, naira rate 500, fee 1%. A 500 NGN trade is 1 USD and
// 0.002 coin.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewSQLiteWithDB(db)
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	vault, err := wallet.NewVault(make([]byte, 32))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	gw := &fakeGateway{balances: make(map[string]decimal.Decimal)}

	coin := &models.Coin{
		ID: "btc", Name: "Bitcoin", Slug: "bitcoin", ShortName: "BTC",
		Kind: models.CoinKindUTXO, Price: decimal.NewFromInt(500),
	}
	if err := st.CreateCoin(context.Background(), coin); err != nil {
		t.Fatalf("create coin: %v", err)
	}

	calc := ledger.NewCalculator(st, gw, vault, 8)
	offerSvc := offers.NewService(st, calc)
	dispatcher := notify.NewDispatcher(nil, nil, st)
	svc := NewService(st, calc, offerSvc, dispatcher, decimal.NewFromInt(1))

	f := &fixture{store: st, vault: vault, gateway: gw, offers: offerSvc, svc: svc, coin: coin}
	f.seller = f.addUser(t, "seller@example.com", "addr-seller", decimal.NewFromInt(1))
	f.buyer = f.addUser(t, "buyer@example.com", "addr-buyer", decimal.Zero)
	return f
}

func (f *fixture) addUser(t *testing.T, email, address string, balance decimal.Decimal) *models.User {
	t.Helper()
	ctx := context.Background()
	user := &models.User{ID: uuid.NewString(), Name: "U", Email: email, CreatedAt: time.Now().UTC()}
	if err := f.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	encAddr, _ := f.vault.EncryptString(address)
	encSig, _ := f.vault.EncryptString("wif-" + address)
	if err := f.store.CreateAddress(ctx, &models.Address{
		ID: uuid.NewString(), UserID: user.ID, CoinID: f.coin.ID,
		Path: encAddr, Sig: encSig, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create address: %v", err)
	}
	f.gateway.balances[address] = balance
	return user
}

func (f *fixture) addOffer(t *testing.T) *models.Offer {
	t.Helper()
	offer, err := f.offers.Create(context.Background(), f.seller.ID, offers.CreateInput{
		CoinID: f.coin.ID,
		Type:   models.OfferTypeNaira,
		Min:    decimal.NewFromInt(100),
		Max:    decimal.NewFromInt(1000),
		Rate:   decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offer
}

func TestInitiateFreezesDenominations(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)

	trade, err := f.svc.Initiate(context.Background(), f.buyer.ID, offer.ID, decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if !trade.AmountInUSD.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1 USD, got %s", trade.AmountInUSD)
	}
	if !trade.AmountInNGN.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected 500 NGN, got %s", trade.AmountInNGN)
	}
	if !trade.AmountInCoin.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("expected 0.002 coin, got %s", trade.AmountInCoin)
	}
	if !trade.FeeInUSD.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("expected 0.01 USD fee, got %s", trade.FeeInUSD)
	}
	if !trade.FeeInCoin.Equal(decimal.RequireFromString("0.00002")) {
		t.Errorf("expected 0.00002 coin fee, got %s", trade.FeeInCoin)
	}
	if trade.BuyerTradeState != models.StateAccepted || trade.SellerTradeState != models.StateNone {
		t.Errorf("expected states 1/0, got %d/%d", trade.BuyerTradeState, trade.SellerTradeState)
	}
	if trade.Status != models.TradePending {
		t.Errorf("expected pending, got %s", trade.Status)
	}
	if len(trade.Ref) != refDigits {
		t.Errorf("expected %d-digit ref, got %q", refDigits, trade.Ref)
	}
}

func TestInitiateDollarOffer(t *testing.T) {
	f := newFixture(t)
	offer, err := f.offers.Create(context.Background(), f.seller.ID, offers.CreateInput{
		CoinID: f.coin.ID,
		Type:   models.OfferTypeDollar,
		Min:    decimal.NewFromInt(1),
		Max:    decimal.NewFromInt(100),
		Rate:   decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	trade, err := f.svc.Initiate(context.Background(), f.buyer.ID, offer.ID, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !trade.AmountInUSD.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected 50 USD, got %s", trade.AmountInUSD)
	}
	if !trade.AmountInNGN.Equal(decimal.NewFromInt(25000)) {
		t.Errorf("expected 25000 NGN, got %s", trade.AmountInNGN)
	}
	if !trade.AmountInCoin.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("expected 0.1 coin, got %s", trade.AmountInCoin)
	}
}

func TestInitiateOwnOffer(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)
	_, err := f.svc.Initiate(context.Background(), f.seller.ID, offer.ID, decimal.NewFromInt(500))
	if !errors.Is(err, ErrOwnOffer) {
		t.Errorf("expected ErrOwnOffer, got %v", err)
	}
}

func TestInitiateAmountOutOfRange(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)
	ctx := context.Background()

	if _, err := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(50)); !errors.Is(err, ErrAmountOutOfRange) {
		t.Errorf("below min: expected ErrAmountOutOfRange, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(1500)); !errors.Is(err, ErrAmountOutOfRange) {
		t.Errorf("above max: expected ErrAmountOutOfRange, got %v", err)
	}
}

func TestInitiateBeyondTradeable(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)
	ctx := context.Background()

	// First trade claims 900 of the 1000 NGN ceiling.
	if _, err := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(900)); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	// 200 NGN is within min/max but beyond what the ceiling has left.
	_, err := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(200))
	if !errors.Is(err, ErrInsufficientTradeable) {
		t.Errorf("expected ErrInsufficientTradeable, got %v", err)
	}
}

func TestHappyPathToSettlementQueue(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)
	ctx := context.Background()

	trade, err := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	trade, err = f.svc.Accept(ctx, f.seller.ID, trade.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if trade.BuyerTradeState != 1 || trade.SellerTradeState != 1 {
		t.Errorf("after accept: expected 1/1, got %d/%d", trade.BuyerTradeState, trade.SellerTradeState)
	}

	trade, err = f.svc.MakePayment(ctx, f.buyer.ID, trade.ID)
	if err != nil {
		t.Fatalf("make payment: %v", err)
	}
	if trade.BuyerTradeState != 2 {
		t.Errorf("after payment: expected buyer 2, got %d", trade.BuyerTradeState)
	}

	trade, err = f.svc.ConfirmPayment(ctx, f.seller.ID, trade.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if trade.Status != models.TradeSuccessful || trade.SellerTradeState != 2 {
		t.Errorf("after confirm: expected successful 2/2, got %s %d/%d",
			trade.Status, trade.BuyerTradeState, trade.SellerTradeState)
	}

	// The seller's 1 coin still covers the 0.004 ceiling, so the offer keeps
	// its terms.
	got, err := f.offers.Get(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != models.OfferActive || !got.Max.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected untouched offer max 1000, got %s max %s", got.Status, got.Max)
	}

	// The trade is queued for settlement.
	unsettled, err := f.store.ListUnsettledTrades(ctx, 10)
	if err != nil {
		t.Fatalf("list unsettled: %v", err)
	}
	if len(unsettled) != 1 || unsettled[0].ID != trade.ID {
		t.Errorf("expected the confirmed trade queued, got %d rows", len(unsettled))
	}
}

func TestMakePaymentBeforeAccept(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)
	ctx := context.Background()

	trade, err := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.svc.MakePayment(ctx, f.buyer.ID, trade.ID); !errors.Is(err, ErrNotAccepted) {
		t.Errorf("expected ErrNotAccepted, got %v", err)
	}

	got, _ := f.store.GetTrade(ctx, trade.ID)
	if got.BuyerTradeState != 1 || got.SellerTradeState != 0 || got.Status != models.TradePending {
		t.Errorf("trade mutated: %d/%d %s", got.BuyerTradeState, got.SellerTradeState, got.Status)
	}
}

func TestTransitionOrdering(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)
	ctx := context.Background()

	trade, _ := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(500))

	if _, err := f.svc.ConfirmPayment(ctx, f.seller.ID, trade.ID); !errors.Is(err, ErrNotAccepted) {
		t.Errorf("confirm before accept: expected ErrNotAccepted, got %v", err)
	}

	if _, err := f.svc.Accept(ctx, f.seller.ID, trade.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Accept(ctx, f.seller.ID, trade.ID); !errors.Is(err, ErrAlreadyAccepted) {
		t.Errorf("double accept: expected ErrAlreadyAccepted, got %v", err)
	}
	if _, err := f.svc.ConfirmPayment(ctx, f.seller.ID, trade.ID); !errors.Is(err, ErrPaymentNotMade) {
		t.Errorf("confirm before payment: expected ErrPaymentNotMade, got %v", err)
	}
}

func TestUnauthorizedActors(t *testing.T) {
	f := newFixture(t)
	offer := f.addOffer(t)
	ctx := context.Background()
	stranger := f.addUser(t, "stranger@example.com", "addr-x", decimal.Zero)

	trade, _ := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(500))

	if _, err := f.svc.Accept(ctx, f.buyer.ID, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("buyer accept: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.MakePayment(ctx, f.seller.ID, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("seller payment: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.ConfirmPayment(ctx, f.buyer.ID, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("buyer confirm: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, stranger.ID, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger cancel: expected ErrUnauthorized, got %v", err)
	}
}

func TestCancelWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Buyer can cancel right after initiating.
	offer := f.addOffer(t)
	trade, _ := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(500))
	if _, err := f.svc.Cancel(ctx, f.buyer.ID, trade.ID); err != nil {
		t.Fatalf("buyer cancel: %v", err)
	}
	if _, err := f.svc.Accept(ctx, f.seller.ID, trade.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("accept after cancel: expected ErrNotPending, got %v", err)
	}

	// Cancellation belongs to the buyer alone; the seller walking away from
	// a paid trade would strand the buyer's fiat.
	trade2, _ := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(500))
	f.svc.Accept(ctx, f.seller.ID, trade2.ID)
	f.svc.MakePayment(ctx, f.buyer.ID, trade2.ID)
	if _, err := f.svc.Cancel(ctx, f.seller.ID, trade2.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("seller cancel: expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, f.buyer.ID, trade2.ID); err != nil {
		t.Fatalf("buyer cancel after payment: %v", err)
	}

	// Nobody can cancel once the seller confirmed.
	trade3, _ := f.svc.Initiate(ctx, f.buyer.ID, offer.ID, decimal.NewFromInt(500))
	f.svc.Accept(ctx, f.seller.ID, trade3.ID)
	f.svc.MakePayment(ctx, f.buyer.ID, trade3.ID)
	if _, err := f.svc.ConfirmPayment(ctx, f.seller.ID, trade3.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, f.buyer.ID, trade3.ID); !errors.Is(err, ErrNotPending) && !errors.Is(err, ErrConfirmed) {
		t.Errorf("cancel after confirm: expected a terminal-state error, got %v", err)
	}
}

func TestRefGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		ref, err := f.svc.newRef(ctx)
		if err != nil {
			t.Fatalf("newRef: %v", err)
		}
		if len(ref) != refDigits {
			t.Fatalf("expected %d digits, got %q", refDigits, ref)
		}
		if _, dup := seen[ref]; dup {
			t.Fatalf("duplicate ref %q", ref)
		}
		seen[ref] = struct{}{}
	}
}

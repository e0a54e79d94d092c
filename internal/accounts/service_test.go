package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"peertrade/internal/models"
	"peertrade/internal/store"
	"peertrade/internal/wallet"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

type fakeGateway struct {
	generated int
}

func (g *fakeGateway) GenerateAddress(ctx context.Context, coin *models.Coin) (*wallet.GeneratedAddress, error) {
	g.generated++
	return &wallet.GeneratedAddress{
		Address:    fmt.Sprintf("addr-%s-%d", coin.ShortName, g.generated),
		Credential: fmt.Sprintf("secret-%d", g.generated),
	}, nil
}

func (g *fakeGateway) GetBalance(ctx context.Context, coin *models.Coin, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
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

func newFixture(t *testing.T) (*Service, *store.SQLite, *wallet.Vault, *fakeGateway) {
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
	gw := &fakeGateway{}
	svc := NewService(st, gw, vault, wallet.TreasuryDeriver{})

	ctx := context.Background()
	coins := []*models.Coin{
		{ID: "btc", Name: "Bitcoin", Slug: "bitcoin", ShortName: "BTC", Kind: models.CoinKindUTXO, Price: decimal.NewFromInt(500)},
		{ID: "eth", Name: "Ethereum", Slug: "ethereum", ShortName: "ETH", Kind: models.CoinKindAccount, Price: decimal.NewFromInt(2000)},
	}
	for _, c := range coins {
		if err := st.CreateCoin(ctx, c); err != nil {
			t.Fatalf("create coin: %v", err)
		}
	}
	return svc, st, vault, gw
}

func TestCreateUserProvisionsAllCoins(t *testing.T) {
	svc, st, vault, _ := newFixture(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	for _, coinID := range []string{"btc", "eth"} {
		addr, err := st.GetAddress(ctx, user.ID, coinID)
		if err != nil {
			t.Fatalf("address missing for %s: %v", coinID, err)
		}
		// Stored fields must be ciphertext the vault can open.
		plain, err := vault.DecryptString(addr.Path)
		if err != nil {
			t.Errorf("address for %s not vault-encrypted: %v", coinID, err)
		}
		if plain == addr.Path {
			t.Errorf("address for %s stored in plaintext", coinID)
		}
		if _, err := vault.UnlockSigningCredential(addr.Sig); err != nil {
			t.Errorf("credential for %s not unlockable: %v", coinID, err)
		}
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "", "a@example.com"); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("empty name: expected ErrInvalidUser, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "Ada", "not-an-email"); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("bad email: expected ErrInvalidUser, got %v", err)
	}
}

func TestRevealAddress(t *testing.T) {
	svc, st, _, _ := newFixture(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	coin, err := st.GetCoin(ctx, "btc")
	if err != nil {
		t.Fatalf("get coin: %v", err)
	}
	address, err := svc.RevealAddress(ctx, user.ID, coin)
	if err != nil {
		t.Fatalf("reveal address: %v", err)
	}
	if address == "" {
		t.Error("revealed address is empty")
	}
}

func TestEnsureAddressIsIdempotent(t *testing.T) {
	svc, st, _, gw := newFixture(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	generated := gw.generated

	coin, _ := st.GetCoin(ctx, "btc")
	if _, err := svc.EnsureAddress(ctx, user.ID, coin); err != nil {
		t.Fatalf("ensure address: %v", err)
	}
	if gw.generated != generated {
		t.Error("EnsureAddress regenerated an existing address")
	}
}

func TestEnsurePlatformAddresses(t *testing.T) {
	svc, st, _, gw := newFixture(t)
	ctx := context.Background()

	if err := svc.EnsurePlatformAddresses(ctx); err != nil {
		t.Fatalf("ensure platform addresses: %v", err)
	}
	for _, coinID := range []string{"btc", "eth"} {
		if _, err := st.GetPlatformAddress(ctx, coinID); err != nil {
			t.Errorf("platform address missing for %s: %v", coinID, err)
		}
	}

	generated := gw.generated
	if err := svc.EnsurePlatformAddresses(ctx); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if gw.generated != generated {
		t.Error("platform addresses regenerated on second run")
	}
}

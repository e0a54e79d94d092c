package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"peertrade/internal/models"
	"peertrade/internal/store"
	"peertrade/internal/wallet"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidUser = errors.New("user name or email is invalid")

// Service provisions users and their custodial addresses. A user gets one
// address per coin at signup; all provider secrets are encrypted before they
// touch the store.
type Service struct {
	store   store.Store
	gateway wallet.Gateway
	vault   *wallet.Vault
	deriver wallet.TreasuryDeriver
}

func NewService(st store.Store, gw wallet.Gateway, vault *wallet.Vault, deriver wallet.TreasuryDeriver) *Service {
	return &Service{store: st, gateway: gw, vault: vault, deriver: deriver}
}

// CreateUser registers a user and generates an address for every listed
// coin. A coin whose address generation fails is skipped and logged; the
// address can be provisioned later without blocking signup.
func (s *Service) CreateUser(ctx context.Context, name, email string) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidUser
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	coins, err := s.store.ListCoins(ctx)
	if err != nil {
		return nil, err
	}
	for _, coin := range coins {
		if err := s.provisionAddress(ctx, user.ID, coin); err != nil {
			zap.L().Error("address provisioning failed",
				zap.String("user_id", user.ID),
				zap.String("coin", coin.ShortName),
				zap.Error(err))
		}
	}
	zap.L().Info("user created", zap.String("user_id", user.ID))
	return user, nil
}

// EnsureAddress provisions the user's address for one coin if it is missing.
func (s *Service) EnsureAddress(ctx context.Context, userID string, coin *models.Coin) (*models.Address, error) {
	addr, err := s.store.GetAddress(ctx, userID, coin.ID)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := s.provisionAddress(ctx, userID, coin); err != nil {
		return nil, err
	}
	return s.store.GetAddress(ctx, userID, coin.ID)
}

func (s *Service) provisionAddress(ctx context.Context, userID string, coin *models.Coin) error {
	generated, err := s.gateway.GenerateAddress(ctx, coin)
	if err != nil {
		return err
	}
	encAddr, err := s.vault.EncryptString(generated.Address)
	if err != nil {
		return err
	}
	encSig, err := s.vault.EncryptString(generated.Credential)
	if err != nil {
		return err
	}
	return s.store.CreateAddress(ctx, &models.Address{
		ID:        uuid.NewString(),
		UserID:    userID,
		CoinID:    coin.ID,
		Path:      encAddr,
		Sig:       encSig,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// RevealAddress returns the user's plaintext deposit address for a coin.
func (s *Service) RevealAddress(ctx context.Context, userID string, coin *models.Coin) (string, error) {
	addr, err := s.store.GetAddress(ctx, userID, coin.ID)
	if err != nil {
		return "", err
	}
	return s.vault.DecryptString(addr.Path)
}

// EnsurePlatformAddresses makes sure every coin has a platform fee address.
// When a treasury xpub is configured, UTXO coins derive a receive-only
// address from it; otherwise the provider generates one.
func (s *Service) EnsurePlatformAddresses(ctx context.Context) error {
	coins, err := s.store.ListCoins(ctx)
	if err != nil {
		return err
	}
	for i, coin := range coins {
		if _, err := s.store.GetPlatformAddress(ctx, coin.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		var address, credential string
		if s.deriver.Enabled() && coin.Kind == models.CoinKindUTXO {
			address, err = s.deriver.Derive(uint32(i))
			if err != nil {
				return fmt.Errorf("derive platform address for %s: %w", coin.ShortName, err)
			}
		} else {
			generated, err := s.gateway.GenerateAddress(ctx, coin)
			if err != nil {
				return fmt.Errorf("generate platform address for %s: %w", coin.ShortName, err)
			}
			address, credential = generated.Address, generated.Credential
		}

		encAddr, err := s.vault.EncryptString(address)
		if err != nil {
			return err
		}
		encSig, err := s.vault.EncryptString(credential)
		if err != nil {
			return err
		}
		if err := s.store.CreatePlatformAddress(ctx, &models.PlatformAddress{
			ID:        uuid.NewString(),
			CoinID:    coin.ID,
			Path:      encAddr,
			Sig:       encSig,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		zap.L().Info("platform address provisioned", zap.String("coin", coin.ShortName))
	}
	return nil
}

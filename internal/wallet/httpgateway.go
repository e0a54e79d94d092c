package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"peertrade/internal/models"

	"github.com/shopspring/decimal"
)

// Compile-time check: *HTTPGateway must satisfy Gateway.
var _ Gateway = (*HTTPGateway)(nil)

type HTTPGatewayConfig struct {
	BaseURL        string
	APIKey         string
	NetworkUTXO    string
	NetworkAccount string
	Timeout        time.Duration
}

// HTTPGateway talks to the custodial wallet provider's REST API. The provider
// exposes one URL space per coin and network; UTXO coins sign with a WIF,
// account-model coins with a private key and nonce.
type HTTPGateway struct {
	cfg    HTTPGatewayConfig
	client *http.Client
}

func NewHTTPGateway(cfg HTTPGatewayConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *HTTPGateway) network(coin *models.Coin) string {
	if coin.Kind == models.CoinKindAccount {
		return g.cfg.NetworkAccount
	}
	return g.cfg.NetworkUTXO
}

func (g *HTTPGateway) coinURL(coin *models.Coin, suffix string) string {
	return g.cfg.BaseURL + "/" + strings.ToLower(coin.ShortName) + "/" + g.network(coin) + suffix
}

type gatewayEnvelope struct {
	Payload json.RawMessage `json:"payload"`
	Meta    struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"meta"`
}

func (g *HTTPGateway) do(ctx context.Context, method, endpoint string, body any, payload any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env gatewayEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("gateway http status %d: undecodable body", resp.StatusCode)
	}
	if env.Meta.Error != nil && env.Meta.Error.Message != "" {
		return fmt.Errorf("gateway error: %s", env.Meta.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway http status %d", resp.StatusCode)
	}
	if len(env.Payload) == 0 {
		return errors.New("gateway response has no payload")
	}
	if payload != nil {
		return json.Unmarshal(env.Payload, payload)
	}
	return nil
}

func (g *HTTPGateway) GenerateAddress(ctx context.Context, coin *models.Coin) (*GeneratedAddress, error) {
	var payload struct {
		Address    string `json:"address"`
		WIF        string `json:"wif"`
		PrivateKey string `json:"privateKey"`
	}
	if err := g.do(ctx, http.MethodPost, g.coinURL(coin, "/address"), nil, &payload); err != nil {
		return nil, err
	}
	credential := payload.WIF
	if coin.Kind == models.CoinKindAccount {
		credential = payload.PrivateKey
	}
	if payload.Address == "" || credential == "" {
		return nil, errors.New("gateway returned an incomplete address payload")
	}
	return &GeneratedAddress{Address: payload.Address, Credential: credential}, nil
}

func (g *HTTPGateway) GetBalance(ctx context.Context, coin *models.Coin, address string) (decimal.Decimal, error) {
	var payload struct {
		Balance string `json:"balance"`
	}
	if err := g.do(ctx, http.MethodGet, g.coinURL(coin, "/address/"+address), nil, &payload); err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(payload.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gateway balance %q unparsable: %w", payload.Balance, err)
	}
	return balance, nil
}

func (g *HTTPGateway) ValidateAddress(ctx context.Context, coin *models.Coin, address string) (bool, error) {
	err := g.do(ctx, http.MethodGet, g.coinURL(coin, "/address/"+address), nil, nil)
	if err == nil {
		return true, nil
	}
	// The provider answers an unknown or invalid address with an error
	// payload. A dead context is a transport failure, not a verdict.
	if ctx.Err() != nil {
		return false, err
	}
	return false, nil
}

func (g *HTTPGateway) EstimateFee(ctx context.Context, coin *models.Coin, from, to string, amount decimal.Decimal) (decimal.Decimal, error) {
	if coin.Kind == models.CoinKindAccount {
		var feeData struct {
			Standard decimal.Decimal `json:"standard"`
		}
		if err := g.do(ctx, http.MethodGet, g.coinURL(coin, "/txs/fee"), nil, &feeData); err != nil {
			return decimal.Zero, err
		}
		var gasData struct {
			GasLimit int64 `json:"gasLimit"`
		}
		body := map[string]string{
			"fromAddress": from,
			"toAddress":   to,
			"value":       amount.StringFixed(6),
		}
		if err := g.do(ctx, http.MethodPost, g.coinURL(coin, "/txs/gas"), body, &gasData); err != nil {
			return decimal.Zero, err
		}
		// Gas price is quoted in 1e-8 coin units.
		return feeData.Standard.Mul(decimal.NewFromInt(gasData.GasLimit)).Shift(-8), nil
	}

	var feeData struct {
		StandardFeePerByte decimal.Decimal `json:"standard_fee_per_byte"`
	}
	if err := g.do(ctx, http.MethodGet, g.coinURL(coin, "/txs/fee"), nil, &feeData); err != nil {
		return decimal.Zero, err
	}
	var sizeData struct {
		TxSizeBytes int64 `json:"tx_size_bytes"`
	}
	body := map[string]any{
		"inputs":  []map[string]string{{"address": from, "value": amount.StringFixed(8)}},
		"outputs": []map[string]string{{"address": to, "value": amount.StringFixed(8)}},
	}
	if err := g.do(ctx, http.MethodPost, g.coinURL(coin, "/txs/size"), body, &sizeData); err != nil {
		return decimal.Zero, err
	}
	return feeData.StandardFeePerByte.Mul(decimal.NewFromInt(sizeData.TxSizeBytes)), nil
}

func (g *HTTPGateway) GetNextNonce(ctx context.Context, coin *models.Coin, address string) (int64, error) {
	if coin.Kind != models.CoinKindAccount {
		return 0, errors.New("nonce lookup applies to account-model coins only")
	}
	var payload struct {
		Nonce int64 `json:"nonce"`
	}
	if err := g.do(ctx, http.MethodGet, g.coinURL(coin, "/address/"+address+"/nonce"), nil, &payload); err != nil {
		return 0, err
	}
	return payload.Nonce + 1, nil
}

func (g *HTTPGateway) SubmitTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.Credential.Empty() {
		return nil, errors.New("transfer requires an unlocked signing credential")
	}
	value := req.Amount.Sub(req.Fee)
	if value.Sign() <= 0 {
		return nil, errors.New("transfer amount does not cover the network fee")
	}

	var payload struct {
		Hex string `json:"hex"`
	}
	if req.Coin.Kind == models.CoinKindAccount {
		body := map[string]any{
			"fromAddress": req.From,
			"toAddress":   req.To,
			"value":       value.StringFixed(8),
			"privateKey":  req.Credential.secret,
		}
		if req.Nonce != nil {
			body["nonce"] = *req.Nonce
		}
		if err := g.do(ctx, http.MethodPost, g.coinURL(req.Coin, "/txs/new-pvtkey"), body, &payload); err != nil {
			return nil, err
		}
	} else {
		body := map[string]any{
			"createTx": map[string]any{
				"inputs":  []map[string]string{{"address": req.From, "value": value.StringFixed(8)}},
				"outputs": []map[string]string{{"address": req.To, "value": value.StringFixed(8)}},
				"fee":     map[string]string{"address": req.From, "value": req.Fee.StringFixed(8)},
			},
			"wifs": []string{req.Credential.secret},
		}
		if err := g.do(ctx, http.MethodPost, g.coinURL(req.Coin, "/txs/new"), body, &payload); err != nil {
			return nil, err
		}
	}
	if payload.Hex == "" {
		return &TransferResult{Accepted: false}, nil
	}
	return &TransferResult{Accepted: true, TxHash: payload.Hex}, nil
}

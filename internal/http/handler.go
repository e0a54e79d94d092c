package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"peertrade/internal/accounts"
	"peertrade/internal/ledger"
	"peertrade/internal/models"
	"peertrade/internal/notify"
	"peertrade/internal/offers"
	"peertrade/internal/settlement"
	"peertrade/internal/store"
	"peertrade/internal/trades"
	"peertrade/internal/wallet"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	Accounts   *accounts.Service
	Offers     *offers.Service
	Trades     *trades.Service
	Settlement *settlement.Engine
	Ledger     *ledger.Calculator
	Store      store.Store
	Hub        *notify.Hub
}

func NewHandler(acc *accounts.Service, off *offers.Service, tr *trades.Service, se *settlement.Engine, lc *ledger.Calculator, st store.Store, hub *notify.Hub) *Handler {
	return &Handler{Accounts: acc, Offers: off, Trades: tr, Settlement: se, Ledger: lc, Store: st, Hub: hub}
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return "", false
	}
	return userID, true
}

func (h *Handler) coinFromParam(w http.ResponseWriter, r *http.Request) (*models.Coin, bool) {
	short := chi.URLParam(r, "coin")
	coin, err := h.Store.GetCoinByShortName(r.Context(), short)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown coin")
		} else {
			writeError(w, http.StatusInternalServerError, "coin lookup failed")
		}
		return nil, false
	}
	return coin, true
}

// writeServiceError translates service sentinels into HTTP codes. Validation
// failures are 422, business and authorization rejections are 400 with the
// sentinel's message, missing records are 404.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, accounts.ErrInvalidUser),
		errors.Is(err, offers.ErrInvalidTerms),
		errors.Is(err, trades.ErrAmountOutOfRange),
		errors.Is(err, wallet.ErrInvalidAddress):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, offers.ErrUnauthorized),
		errors.Is(err, offers.ErrInsufficientBalance),
		errors.Is(err, offers.ErrOfferClosed),
		errors.Is(err, offers.ErrOfferHasTrades),
		errors.Is(err, offers.ErrPendingTrades),
		errors.Is(err, offers.ErrStale),
		errors.Is(err, trades.ErrUnauthorized),
		errors.Is(err, trades.ErrOwnOffer),
		errors.Is(err, trades.ErrOfferNotActive),
		errors.Is(err, trades.ErrInsufficientTradeable),
		errors.Is(err, trades.ErrNotPending),
		errors.Is(err, trades.ErrAlreadyAccepted),
		errors.Is(err, trades.ErrNotAccepted),
		errors.Is(err, trades.ErrPaymentNotMade),
		errors.Is(err, trades.ErrPaymentAlreadyMade),
		errors.Is(err, trades.ErrConfirmed),
		errors.Is(err, trades.ErrStale),
		errors.Is(err, settlement.ErrInsufficientBalance),
		errors.Is(err, settlement.ErrTransferRejected):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type coinResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Kind      string `json:"kind"`
	Price     string `json:"price"`
}

type offerResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	CoinID    string `json:"coinId"`
	Type      string `json:"type"`
	Min       string `json:"min"`
	Max       string `json:"max"`
	Rate      string `json:"rate"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type tradeResponse struct {
	Ref              string `json:"ref"`
	CoinID           string `json:"coinId"`
	OfferID          string `json:"offerId"`
	BuyerID          string `json:"buyerId"`
	SellerID         string `json:"sellerId"`
	AmountInCoin     string `json:"amountInCoin"`
	AmountInUSD      string `json:"amountInUsd"`
	AmountInNGN      string `json:"amountInNgn"`
	FeeInCoin        string `json:"feeInCoin"`
	BuyerTradeState  int    `json:"buyerTradeState"`
	SellerTradeState int    `json:"sellerTradeState"`
	Status           string `json:"status"`
	CoinReleased     bool   `json:"coinReleased"`
	CreatedAt        string `json:"createdAt"`
}

func toOfferResponse(o *models.Offer) offerResponse {
	return offerResponse{
		ID:        o.ID,
		UserID:    o.UserID,
		CoinID:    o.CoinID,
		Type:      string(o.Type),
		Min:       o.Min.String(),
		Max:       o.Max.String(),
		Rate:      o.Rate.String(),
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
	}
}

func toTradeResponse(t *models.Trade) tradeResponse {
	return tradeResponse{
		Ref:              t.Ref,
		CoinID:           t.CoinID,
		OfferID:          t.OfferID,
		BuyerID:          t.BuyerID,
		SellerID:         t.SellerID,
		AmountInCoin:     t.AmountInCoin.String(),
		AmountInUSD:      t.AmountInUSD.String(),
		AmountInNGN:      t.AmountInNGN.String(),
		FeeInCoin:        t.FeeInCoin.String(),
		BuyerTradeState:  t.BuyerTradeState,
		SellerTradeState: t.SellerTradeState,
		Status:           string(t.Status),
		CoinReleased:     t.CoinReleased,
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
	}
}

func pageParams(r *http.Request) (offset, limit int) {
	limit = 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return offset, limit
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := h.Accounts.CreateUser(r.Context(), req.Name, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "email already registered")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Name: user.Name, Email: user.Email})
}

func (h *Handler) ListCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := h.Store.ListCoins(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]coinResponse, 0, len(coins))
	for _, c := range coins {
		resp = append(resp, coinResponse{
			ID:        c.ID,
			Name:      c.Name,
			ShortName: c.ShortName,
			Kind:      string(c.Kind),
			Price:     c.Price.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"coins": resp})
}

func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	filter := store.OfferFilter{}
	filter.Offset, filter.Limit = pageParams(r)
	if short := r.URL.Query().Get("coin"); short != "" {
		coin, err := h.Store.GetCoinByShortName(r.Context(), short)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown coin")
			return
		}
		filter.CoinID = coin.ID
	}
	if raw := r.URL.Query().Get("price"); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "price is not a number")
			return
		}
		filter.Price = &price
	}

	list, total, err := h.Offers.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]offerResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, toOfferResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": resp, "total": total})
}

type offerTermsRequest struct {
	Coin string `json:"coin"`
	Type string `json:"type"`
	Min  string `json:"min"`
	Max  string `json:"max"`
	Rate string `json:"rate"`
}

func parseDecField(raw, name string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New(name + " is not a number")
	}
	return d, nil
}

func (req offerTermsRequest) terms() (typ models.OfferType, min, max, rate decimal.Decimal, err error) {
	if min, err = parseDecField(req.Min, "min"); err != nil {
		return
	}
	if max, err = parseDecField(req.Max, "max"); err != nil {
		return
	}
	if rate, err = parseDecField(req.Rate, "rate"); err != nil {
		return
	}
	typ = models.OfferType(req.Type)
	return
}

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req offerTermsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	coin, err := h.Store.GetCoinByShortName(r.Context(), req.Coin)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown coin")
		return
	}
	typ, min, max, rate, err := req.terms()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	offer, err := h.Offers.Create(r.Context(), userID, offers.CreateInput{
		CoinID: coin.ID,
		Type:   typ,
		Min:    min,
		Max:    max,
		Rate:   rate,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(offer))
}

func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.Offers.Get(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(offer))
}

func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req offerTermsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	typ, min, max, rate, err := req.terms()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	offer, err := h.Offers.Update(r.Context(), userID, chi.URLParam(r, "offerID"), offers.UpdateInput{
		Type: typ,
		Min:  min,
		Max:  max,
		Rate: rate,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(offer))
}

func (h *Handler) CloseOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Offers.Close(r.Context(), userID, chi.URLParam(r, "offerID")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Offers.Delete(r.Context(), userID, chi.URLParam(r, "offerID")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ListMyOffers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	offset, limit := pageParams(r)
	list, total, err := h.Offers.ListMine(r.Context(), userID, offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]offerResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, toOfferResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": resp, "total": total})
}

func (h *Handler) InitiateTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		OfferID string `json:"offerId"`
		Amount  string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "amount is not a number")
		return
	}

	trade, err := h.Trades.Initiate(r.Context(), userID, req.OfferID, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(trade))
}

// tradeForParty resolves a trade by ref and hides it from non-parties.
func (h *Handler) tradeForParty(w http.ResponseWriter, r *http.Request, userID string) (*models.Trade, bool) {
	trade, err := h.Trades.GetByRef(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if userID != trade.BuyerID && userID != trade.SellerID {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return trade, true
}

func (h *Handler) GetTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	trade, ok := h.tradeForParty(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(trade))
}

func (h *Handler) ListMyTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	filter := store.TradeFilter{Status: models.TradeStatus(r.URL.Query().Get("status"))}
	filter.Offset, filter.Limit = pageParams(r)
	list, total, err := h.Trades.ListMine(r.Context(), userID, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]tradeResponse, 0, len(list))
	for _, t := range list {
		resp = append(resp, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": resp, "total": total})
}

func (h *Handler) tradeTransition(w http.ResponseWriter, r *http.Request, fn func(userID, tradeID string) (*models.Trade, error)) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	trade, ok := h.tradeForParty(w, r, userID)
	if !ok {
		return
	}
	updated, err := fn(userID, trade.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(updated))
}

func (h *Handler) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	h.tradeTransition(w, r, func(userID, tradeID string) (*models.Trade, error) {
		return h.Trades.Accept(r.Context(), userID, tradeID)
	})
}

func (h *Handler) PaymentMade(w http.ResponseWriter, r *http.Request) {
	h.tradeTransition(w, r, func(userID, tradeID string) (*models.Trade, error) {
		return h.Trades.MakePayment(r.Context(), userID, tradeID)
	})
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	h.tradeTransition(w, r, func(userID, tradeID string) (*models.Trade, error) {
		return h.Trades.ConfirmPayment(r.Context(), userID, tradeID)
	})
}

func (h *Handler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	h.tradeTransition(w, r, func(userID, tradeID string) (*models.Trade, error) {
		return h.Trades.Cancel(r.Context(), userID, tradeID)
	})
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	coin, ok := h.coinFromParam(w, r)
	if !ok {
		return
	}

	total, err := h.Ledger.TotalBalance(r.Context(), userID, coin)
	if err != nil {
		if errors.Is(err, ledger.ErrNoAddress) {
			writeError(w, http.StatusNotFound, "no address for this coin")
			return
		}
		writeServiceError(w, err)
		return
	}
	locked, err := h.Ledger.LockedBalance(r.Context(), userID, coin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	free, err := h.Ledger.WithdrawableBalance(r.Context(), userID, coin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"coin":         coin.ShortName,
		"total":        total.String(),
		"locked":       locked.String(),
		"withdrawable": free.String(),
	})
}

// ListBalances reports the breakdown for every listed coin. Coins without a
// deposit address carry a null total instead of a zero, so clients can tell
// "nothing deposited" from "no address yet".
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	coins, err := h.Store.ListCoins(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	type balanceEntry struct {
		Coin         string  `json:"coin"`
		Total        *string `json:"total"`
		Locked       string  `json:"locked"`
		Withdrawable string  `json:"withdrawable"`
	}
	resp := make([]balanceEntry, 0, len(coins))
	for _, coin := range coins {
		entry := balanceEntry{Coin: coin.ShortName, Locked: "0", Withdrawable: "0"}
		total, err := h.Ledger.TotalBalance(r.Context(), userID, coin)
		switch {
		case errors.Is(err, ledger.ErrNoAddress):
			resp = append(resp, entry)
			continue
		case err != nil:
			writeServiceError(w, err)
			return
		}
		locked, err := h.Ledger.LockedBalance(r.Context(), userID, coin)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		free, err := h.Ledger.WithdrawableBalance(r.Context(), userID, coin)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		totalStr := total.String()
		entry.Total = &totalStr
		entry.Locked = locked.String()
		entry.Withdrawable = free.String()
		resp = append(resp, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": resp})
}

func (h *Handler) GetDepositAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	coin, ok := h.coinFromParam(w, r)
	if !ok {
		return
	}
	address, err := h.Accounts.RevealAddress(r.Context(), userID, coin)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"coin": coin.ShortName, "address": address})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	coin, ok := h.coinFromParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
		Amount  string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "amount is not a number")
		return
	}

	tx, err := h.Settlement.Withdraw(r.Context(), userID, coin.ID, req.Address, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     tx.ID,
		"coin":   coin.ShortName,
		"amount": tx.Amount.String(),
		"status": "sent",
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	coin, ok := h.coinFromParam(w, r)
	if !ok {
		return
	}
	offset, limit := pageParams(r)
	list, total, err := h.Store.ListTransactions(r.Context(), userID, coin.ID, offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	type txResponse struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Amount    string `json:"amount"`
		TradeID   string `json:"tradeId,omitempty"`
		CreatedAt string `json:"createdAt"`
	}
	resp := make([]txResponse, 0, len(list))
	for _, tx := range list {
		item := txResponse{
			ID:        tx.ID,
			Type:      string(tx.Type),
			Amount:    tx.Amount.String(),
			CreatedAt: tx.CreatedAt.Format(time.RFC3339),
		}
		if tx.TradeID != nil {
			item.TradeID = *tx.TradeID
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": resp, "total": total})
}

// TradeSocket subscribes a trade party to live updates for one trade.
func (h *Handler) TradeSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	trade, ok := h.tradeForParty(w, r, userID)
	if !ok {
		return
	}
	h.Hub.Serve(w, r, "trade."+trade.Ref)
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", handler.CreateUser)
		r.Get("/coins", handler.ListCoins)

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", handler.ListOffers)
			r.Post("/", handler.CreateOffer)
			r.Get("/mine", handler.ListMyOffers)
			r.Get("/{offerID}", handler.GetOffer)
			r.Put("/{offerID}", handler.UpdateOffer)
			r.Post("/{offerID}/close", handler.CloseOffer)
			r.Delete("/{offerID}", handler.DeleteOffer)
		})

		r.Route("/trades", func(r chi.Router) {
			r.Get("/", handler.ListMyTrades)
			r.Post("/", handler.InitiateTrade)
			r.Get("/{ref}", handler.GetTrade)
			r.Post("/{ref}/accept", handler.AcceptTrade)
			r.Post("/{ref}/payment-made", handler.PaymentMade)
			r.Post("/{ref}/confirm-payment", handler.ConfirmPayment)
			r.Post("/{ref}/cancel", handler.CancelTrade)
		})

		r.Get("/balances", handler.ListBalances)
		r.Get("/balances/{coin}", handler.GetBalances)
		r.Get("/addresses/{coin}", handler.GetDepositAddress)

		r.Route("/transactions/{coin}", func(r chi.Router) {
			r.Get("/", handler.ListTransactions)
			r.Post("/withdraw", handler.Withdraw)
		})

		r.Get("/ws/trades/{ref}", handler.TradeSocket)
	})

	return &Server{Router: r}
}

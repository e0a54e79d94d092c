package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"peertrade/internal/store"

	"go.uber.org/zap"
)

// Dispatcher routes events to websocket subscribers and mail. It is fire and
// forget: a notification failure never fails the operation that raised it.
type Dispatcher struct {
	hub    *Hub
	mailer Mailer
	store  store.Store
}

func NewDispatcher(hub *Hub, mailer Mailer, st store.Store) *Dispatcher {
	return &Dispatcher{hub: hub, mailer: mailer, store: st}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if ref := ev.TradeRef(); ref != "" && d.hub != nil {
		payload, err := json.Marshal(map[string]any{
			"event": ev.Name(),
			"ref":   ref,
			"data":  ev,
		})
		if err != nil {
			zap.L().Error("event payload marshal failed", zap.String("event", ev.Name()), zap.Error(err))
		} else {
			d.hub.Publish("trade."+ref, payload)
		}
	}

	if d.mailer == nil {
		return
	}
	for _, userID := range ev.Recipients() {
		user, err := d.store.GetUser(ctx, userID)
		if err != nil {
			zap.L().Warn("notification recipient lookup failed",
				zap.String("event", ev.Name()),
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		d.mailer.Send(Mail{
			To:      user.Email,
			Subject: subjectFor(ev),
			Body:    bodyFor(ev, user.Name),
		})
	}
}

func subjectFor(ev Event) string {
	switch ev.(type) {
	case TradeInitiated:
		return "New trade on your offer"
	case TradeAccepted:
		return "Your trade was accepted"
	case PaymentMade:
		return "Buyer marked payment as made"
	case PaymentConfirmed:
		return "Payment confirmed"
	case TradeCancelled:
		return "Trade cancelled"
	case CoinReleased:
		return "Coins released"
	case WithdrawalCompleted:
		return "Withdrawal completed"
	default:
		return "Account activity"
	}
}

func bodyFor(ev Event, name string) string {
	if ref := ev.TradeRef(); ref != "" {
		return fmt.Sprintf("Hi %s, there is an update on trade %s: %s.", name, ref, ev.Name())
	}
	return fmt.Sprintf("Hi %s, there is an update on your account: %s.", name, ev.Name())
}

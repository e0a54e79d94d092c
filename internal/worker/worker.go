package worker

import (
	"context"
	"time"

	"peertrade/internal/pricing"
	"peertrade/internal/settlement"
	"peertrade/internal/store"

	"go.uber.org/zap"
)

// Worker sweeps successful trades whose coin or fee leg has not been
// released and settles them. A trade that fails stays unsettled and is
// retried on the next tick. When a price refresher is attached it also
// pulls fresh market quotes each tick.
type Worker struct {
	Store      store.Store
	Settlement *settlement.Engine
	Pricing    *pricing.Refresher
	Interval   time.Duration
	BatchSize  int
}

func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if w.Pricing != nil {
			if err := w.Pricing.RefreshOnce(ctx); err != nil {
				zap.L().Error("price refresh failed", zap.Error(err))
			}
		}
		if err := w.SweepOnce(ctx); err != nil {
			zap.L().Error("settlement sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce settles one batch of unsettled trades.
func (w *Worker) SweepOnce(ctx context.Context) error {
	batch := w.BatchSize
	if batch <= 0 {
		batch = 50
	}
	trades, err := w.Store.ListUnsettledTrades(ctx, batch)
	if err != nil {
		return err
	}
	for _, trade := range trades {
		if err := w.Settlement.Settle(ctx, trade); err != nil {
			zap.L().Error("trade settlement failed",
				zap.String("ref", trade.Ref),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

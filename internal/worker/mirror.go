// Package worker contains the mirror worker: it copies committed transactions
// to the configured spreadsheet, driven by AMQP events with a periodic scan as
// the catch-all for lost events.
package worker

import (
	"context"
	"log/slog"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/sheets"
)

type Mirror struct {
	store     ledger.Store
	sheet     sheets.TransactionAppender
	interval  time.Duration
	batchSize int
}

func NewMirror(store ledger.Store, sheet sheets.TransactionAppender, interval time.Duration, batchSize int) *Mirror {
	return &Mirror{
		store:     store,
		sheet:     sheet,
		interval:  interval,
		batchSize: batchSize,
	}
}

// HandleEvent mirrors the transaction named by one event. Returning an error
// requeues the delivery, so only transient failures should bubble up.
func (w *Mirror) HandleEvent(ctx context.Context, ev *amqp.TransactionEvent) error {
	if ev.Op == amqp.OpDeleted {
		return nil
	}

	t, err := w.store.Transaction(ctx, ev.UserID, ev.TransactionID)
	if core.IsNotFound(err) {
		// Deleted between publish and delivery; nothing to mirror.
		return nil
	}
	if err != nil {
		return err
	}
	return w.mirror(ctx, t)
}

// Run sweeps for unmirrored transactions until the context is cancelled. The
// first sweep happens immediately so a restart drains the backlog without
// waiting a full interval.
func (w *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Mirror) sweep(ctx context.Context) {
	txs, err := w.store.UnmirroredTransactions(ctx, w.batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list unmirrored transactions", "error", err)
		return
	}
	if len(txs) == 0 {
		return
	}

	slog.InfoContext(ctx, "Mirroring pending transactions", "pending", len(txs))
	for _, t := range txs {
		if err := w.mirror(ctx, t); err != nil {
			slog.ErrorContext(ctx, "Failed to mirror transaction",
				"transaction_id", t.ID,
				"error", err)
		}
	}
}

func (w *Mirror) mirror(ctx context.Context, t core.Transaction) error {
	ref, err := w.sheet.Append(ctx, t)
	if err != nil {
		return err
	}
	if err := w.store.MarkMirrored(ctx, t.ID, time.Now().UTC()); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction mirrored",
		"transaction_id", t.ID,
		"user_id", t.UserID,
		"sheets_ref", ref)
	return nil
}

package worker

import (
	"context"
	"testing"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	ledgermem "tally/internal/ledger/memory"
	sheetsmem "tally/internal/sheets/memory"
)

func seedTransaction(t *testing.T, ctx context.Context, store *ledgermem.Store) core.Transaction {
	t.Helper()
	u, err := store.CreateUser(ctx, core.User{Username: "frida", Currency: "EUR"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	tx, err := store.CreateTransaction(ctx, core.Transaction{
		UserID: u.ID,
		Type:   core.Expense,
		Amount: core.Money{Cents: 1200},
		Date:   core.NewDate(2024, 3, 1),
		Note:   "coffee beans",
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func TestMirror_HandleEvent(t *testing.T) {
	ctx := context.Background()
	store := ledgermem.New()
	sheet := sheetsmem.New()
	w := NewMirror(store, sheet, time.Minute, 10)

	tx := seedTransaction(t, ctx, store)
	ev := amqp.NewTransactionEvent(amqp.OpCreated, tx.ID, tx.UserID, 2024, 3)
	if err := w.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	rows := sheet.Rows()
	if len(rows) != 1 || rows[0].ID != tx.ID {
		t.Fatalf("mirrored rows = %+v, want one row for transaction %d", rows, tx.ID)
	}

	pending, err := store.UnmirroredTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d transactions still pending after mirror", len(pending))
	}
}

func TestMirror_IgnoresDeletesAndMissingRows(t *testing.T) {
	ctx := context.Background()
	store := ledgermem.New()
	sheet := sheetsmem.New()
	w := NewMirror(store, sheet, time.Minute, 10)

	if err := w.HandleEvent(ctx, amqp.NewTransactionEvent(amqp.OpDeleted, 1, 1, 2024, 3)); err != nil {
		t.Errorf("delete event: %v", err)
	}
	if err := w.HandleEvent(ctx, amqp.NewTransactionEvent(amqp.OpCreated, 999, 1, 2024, 3)); err != nil {
		t.Errorf("missing transaction: %v", err)
	}
	if len(sheet.Rows()) != 0 {
		t.Errorf("unexpected rows mirrored: %+v", sheet.Rows())
	}
}

func TestMirror_SweepDrainsBacklog(t *testing.T) {
	ctx := context.Background()
	store := ledgermem.New()
	sheet := sheetsmem.New()
	w := NewMirror(store, sheet, time.Minute, 10)

	first := seedTransaction(t, ctx, store)
	second, err := store.CreateTransaction(ctx, core.Transaction{
		UserID: first.UserID,
		Type:   core.Income,
		Amount: core.Money{Cents: 300000},
		Date:   core.NewDate(2024, 3, 25),
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	w.sweep(ctx)

	rows := sheet.Rows()
	if len(rows) != 2 {
		t.Fatalf("mirrored %d rows, want 2", len(rows))
	}
	if rows[0].ID != first.ID || rows[1].ID != second.ID {
		t.Errorf("rows mirrored out of order: %d, %d", rows[0].ID, rows[1].ID)
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTransaction(id string, capturedAt time.Time) *PendingTransaction {
	tx := &PendingTransaction{
		ID:            id,
		StoreID:       "store-1",
		PaymentMethod: "cash",
		DeviceID:      "till-1",
		ReceiptNumber: "R-" + id,
		CapturedAt:    capturedAt,
		Status:        StatusCompleted,
		Discount:      50,
		Items: []LineItem{
			{ProductID: "P1", VariantID: "V1", Quantity: 2, UnitPrice: 500, TaxRate: 0.1},
			{ProductID: "P2", VariantID: "V1", Quantity: 1, UnitPrice: 250, TaxRate: 0},
		},
	}
	tx.ComputeTotals()
	return tx
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pos.db")

	s1, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s1.AppendTransaction(context.Background(), sampleTransaction("T1", time.Now())))
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s2.Close()

	tx, err := s2.GetTransaction(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "R-T1", tx.ReceiptNumber)
}

func TestOpenFailsWithStorageInitError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Open(context.Background(), filepath.Join(blocker, "sub", "pos.db"))
	require.Error(t, err)

	var initErr *StorageInitError
	assert.True(t, errors.As(err, &initErr))
}

func TestComputeTotals(t *testing.T) {
	tx := sampleTransaction("T1", time.Now())

	assert.Equal(t, int64(1000), tx.Items[0].LineTotal)
	assert.Equal(t, int64(1250), tx.Subtotal)
	assert.Equal(t, int64(100), tx.Tax)
	assert.Equal(t, int64(1300), tx.Total)
	assert.True(t, tx.TotalsValid())
}

func TestSignAndVerify(t *testing.T) {
	key := []byte("secret")
	tx := sampleTransaction("T1", time.Now())
	tx.Sign(key)

	assert.True(t, tx.Verify(key))
	assert.False(t, tx.Verify([]byte("other")))

	tx.Total++
	assert.False(t, tx.Verify(key))
}

func TestAppendTransactionWritesRowAndQueueEntry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tx := sampleTransaction("T1", time.Now())
	require.NoError(t, s.AppendTransaction(ctx, tx))

	entries, err := s.PendingEntries(ctx, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpCreate, entries[0].Operation)
	assert.Equal(t, TableTransactions, entries[0].Table)

	var payload PendingTransaction
	require.NoError(t, json.Unmarshal(entries[0].Payload, &payload))
	assert.Equal(t, "T1", payload.ID)
	assert.Equal(t, tx.Total, payload.Total)
	assert.Len(t, payload.Items, 2)
}

func TestAppendTransactionDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T1", time.Now())))
	err := s.AppendTransaction(ctx, sampleTransaction("T1", time.Now()))
	assert.ErrorIs(t, err, ErrDuplicateID)

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAppendTransactionRejectsBadTotals(t *testing.T) {
	s := openTestStore(t)
	tx := sampleTransaction("T1", time.Now())
	tx.Total += 1

	err := s.AppendTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, ErrInvalidTotals)
}

func TestListUnsyncedOrdersByCaptureTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T3", base.Add(3*time.Minute))))
	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T1", base.Add(1*time.Minute))))
	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T2", base.Add(2*time.Minute))))
	require.NoError(t, s.MarkSynced(ctx, TableTransactions, "T2"))

	rows, err := s.ListUnsynced(ctx, TableTransactions)
	require.NoError(t, err)

	var ids []string
	for _, r := range rows {
		var tx PendingTransaction
		require.NoError(t, json.Unmarshal(r, &tx))
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"T1", "T3"}, ids)

	_, err = s.ListUnsynced(ctx, "orders")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestMarkFailedAndSyncedAreExclusive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T1", time.Now())))

	require.NoError(t, s.MarkFailed(ctx, TableTransactions, "T1", errors.New("timeout")))
	tx, err := s.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, 1, tx.RetryCount)
	assert.Equal(t, "timeout", tx.LastError)

	require.NoError(t, s.MarkSynced(ctx, TableTransactions, "T1"))
	err = s.MarkFailed(ctx, TableTransactions, "T1", errors.New("late failure"))
	assert.ErrorIs(t, err, ErrAlreadySynced)

	tx, err = s.GetTransaction(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, tx.Status)

	err = s.MarkFailed(ctx, TableTransactions, "missing", errors.New("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedStock(t *testing.T, s *SQLiteStore, stock int64) {
	t.Helper()
	_, err := s.UpsertInventory(context.Background(), []InventorySnapshot{{
		ProductID: "P1", VariantID: "V1", LocationID: "L1", SKU: "SKU-1", Title: "Widget", CurrentStock: stock,
	}})
	require.NoError(t, err)
}

func TestDecrementStock(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStock(t, s, 5)

	left, err := s.DecrementStock(ctx, "P1", "V1", "L1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), left)

	_, err = s.DecrementStock(ctx, "P1", "V1", "L1", 4)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(3), stockErr.Available)

	_, err = s.DecrementStock(ctx, "P1", "V1", "L1", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = s.DecrementStock(ctx, "P9", "V1", "L1", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	inv, err := s.GetInventory(ctx, "P1", "V1", "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), inv.CurrentStock)
	assert.True(t, inv.Dirty)
}

func TestDecrementStockTwoConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStock(t, s, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.DecrementStock(ctx, "P1", "V1", "L1", 3)
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)

	inv, err := s.GetInventory(ctx, "P1", "V1", "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inv.CurrentStock)
}

func TestDecrementStockNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStock(t, s, 10)

	const callers = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DecrementStock(ctx, "P1", "V1", "L1", 1)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, success)
	inv, err := s.GetInventory(ctx, "P1", "V1", "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), inv.CurrentStock)
}

func TestUpsertInventoryRemoteWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStock(t, s, 5)

	_, err := s.DecrementStock(ctx, "P1", "V1", "L1", 1)
	require.NoError(t, err)
	dirty, err := s.ListUnsynced(ctx, TableInventory)
	require.NoError(t, err)
	assert.Len(t, dirty, 1)

	_, err = s.UpsertInventory(ctx, []InventorySnapshot{{
		ProductID: "P1", VariantID: "V1", LocationID: "L1", SKU: "SKU-1", Title: "Widget v2", CurrentStock: 40, ReservedStock: 2,
	}})
	require.NoError(t, err)

	inv, err := s.GetInventory(ctx, "P1", "V1", "L1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), inv.CurrentStock)
	assert.Equal(t, "Widget v2", inv.Title)
	assert.False(t, inv.Dirty)
	assert.NotNil(t, inv.LastSync)
}

func strPtr(s string) *string { return &s }

func TestCustomerRemoteWinsExceptPendingUpload(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateCustomer(ctx, &CustomerCache{ID: "C1", Name: "Local Name", Email: strPtr("a@example.com")}))
	_, err := s.UpsertCustomersFromRemote(ctx, []CustomerCache{{ID: "C2", Name: "Remote Only", CreatedAt: time.Now()}})
	require.NoError(t, err)

	applied, err := s.UpsertCustomersFromRemote(ctx, []CustomerCache{
		{ID: "C1", Name: "Remote Name", CreatedAt: time.Now()},
		{ID: "C2", Name: "Remote Renamed", CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	c1, err := s.GetCustomer(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Local Name", c1.Name)
	assert.True(t, c1.PendingUpload)

	require.NoError(t, s.MarkSynced(ctx, TableCustomers, "C1"))
	_, err = s.UpsertCustomersFromRemote(ctx, []CustomerCache{{ID: "C1", Name: "Remote Name", CreatedAt: time.Now()}})
	require.NoError(t, err)

	c1, err = s.GetCustomer(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Remote Name", c1.Name)
	assert.False(t, c1.PendingUpload)
	assert.Nil(t, c1.Email)
}

func TestQueueEntryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e1, err := s.Enqueue(ctx, OpUpdate, TableCustomers, json.RawMessage(`{"id":"C1"}`))
	require.NoError(t, err)
	e2, err := s.Enqueue(ctx, OpDelete, TableCustomers, json.RawMessage(`{"id":"C2"}`))
	require.NoError(t, err)
	assert.Greater(t, e2.Seq, e1.Seq)

	_, err = s.Enqueue(ctx, Operation("merge"), TableCustomers, json.RawMessage(`{}`))
	assert.Error(t, err)

	count, err := s.FailEntry(ctx, e1.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	after, err := s.PendingEntries(ctx, e1.Seq, 10, 0)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, e2.ID, after[0].ID)

	require.NoError(t, s.CompleteEntry(ctx, e2.ID))
	require.NoError(t, s.CompleteEntry(ctx, e2.ID))
	_, err = s.FailEntry(ctx, e2.ID, "late")
	assert.ErrorIs(t, err, ErrAlreadySynced)

	pending, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	assert.ErrorIs(t, s.CompleteEntry(ctx, "missing"), ErrNotFound)
}

func TestStuckEntriesAreHiddenButCounted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e, err := s.Enqueue(ctx, OpCreate, TableCustomers, json.RawMessage(`{"id":"C1"}`))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.FailEntry(ctx, e.ID, "remote down")
		require.NoError(t, err)
	}

	visible, err := s.PendingEntries(ctx, 0, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, visible)

	stuck, err := s.CountStuck(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stuck)
	pending, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	n, err := s.ResetRetries(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	visible, err = s.PendingEntries(ctx, 0, 10, 5)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestPurgeSyncedRespectsRetention(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	old := time.Now().Add(-10 * 24 * time.Hour)
	s.now = func() time.Time { return old }
	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T-old", old)))
	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T-pending", old)))
	require.NoError(t, s.MarkSynced(ctx, TableTransactions, "T-old"))
	entries, err := s.PendingEntries(ctx, 0, 10, 0)
	require.NoError(t, err)
	require.NoError(t, s.CompleteEntry(ctx, entries[0].ID))

	s.now = time.Now
	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T-new", time.Now())))
	require.NoError(t, s.MarkSynced(ctx, TableTransactions, "T-new"))

	res, err := s.PurgeSynced(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Transactions)
	assert.Equal(t, int64(1), res.QueueEntries)

	_, err = s.GetTransaction(ctx, "T-old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTransaction(ctx, "T-pending")
	assert.NoError(t, err)
	_, err = s.GetTransaction(ctx, "T-new")
	assert.NoError(t, err)
}

func TestStatsAndHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedStock(t, s, 3)
	require.NoError(t, s.AppendTransaction(ctx, sampleTransaction("T1", time.Now())))
	require.NoError(t, s.CreateCustomer(ctx, &CustomerCache{ID: "C1", Name: "Ann"}))

	st, err := s.Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Transactions.Unsynced)
	assert.Equal(t, int64(1), st.Inventory.Total)
	assert.Equal(t, int64(1), st.Customers.Unsynced)
	assert.Equal(t, int64(2), st.Queue.Unsynced)

	started := time.Now()
	h := &SyncHistory{ID: "h1", StartedAt: started, Status: "running"}
	require.NoError(t, s.CreateSyncHistory(ctx, h))
	done := started.Add(time.Second)
	h.CompletedAt = &done
	h.Attempted, h.Succeeded, h.Status = 2, 2, "completed"
	require.NoError(t, s.UpdateSyncHistory(ctx, h))

	list, err := s.ListSyncHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "completed", list[0].Status)
	assert.Equal(t, 2, list[0].Succeeded)
	require.NotNil(t, list[0].CompletedAt)
}

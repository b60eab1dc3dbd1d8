package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryInsertOrderIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.InsertOrder(ctx, Order{ID: "T1", Total: 100})
	require.NoError(t, err)
	second, err := m.InsertOrder(ctx, Order{ID: "T1", Total: 100})
	require.NoError(t, err)

	assert.Equal(t, first.ReceivedAt, second.ReceivedAt)
	assert.Len(t, m.Orders(), 1)
	assert.Equal(t, 2, m.Calls().InsertOrder)
}

func TestMemoryItemsRequireOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.InsertOrderItems(ctx, []OrderItem{{OrderID: "missing", LineNo: 1}})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = m.InsertOrder(ctx, Order{ID: "T1"})
	require.NoError(t, err)
	items := []OrderItem{{OrderID: "T1", LineNo: 2, ProductID: "P2"}, {OrderID: "T1", LineNo: 1, ProductID: "P1"}}
	require.NoError(t, m.InsertOrderItems(ctx, items))
	require.NoError(t, m.InsertOrderItems(ctx, items))

	got := m.Items("T1")
	require.Len(t, got, 2)
	assert.Equal(t, "P1", got[0].ProductID)
}

func TestMemoryFailureHooks(t *testing.T) {
	m := NewMemory()
	boom := errors.New("503 from remote")
	m.FailUpsertCustomer = func(Customer) error { return boom }

	err := m.UpsertCustomer(context.Background(), Customer{ID: "C1"})
	assert.ErrorIs(t, err, boom)
	_, ok := m.Customer("C1")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Calls().Writes())
}

func TestMemorySelects(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SetInventory(InventoryRow{ProductID: "P1", VariantID: "V1", LocationID: "L1", CurrentStock: 5})
	m.SetInventory(InventoryRow{ProductID: "P1", VariantID: "V1", LocationID: "L2", CurrentStock: 7})

	rows, err := m.SelectInventory(ctx, InventoryFilter{LocationID: "L2"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].CurrentStock)

	old := time.Now().Add(-30 * 24 * time.Hour)
	m.SetCustomer(CustomerRow{ID: "old", Name: "Old", CreatedAt: old})
	m.SetCustomer(CustomerRow{ID: "new", Name: "New", CreatedAt: time.Now()})

	customers, err := m.SelectRecentCustomers(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "new", customers[0].ID)
}

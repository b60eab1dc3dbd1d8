package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Calls counts every request a Memory repository has served.
type Calls struct {
	InsertOrder           int
	InsertOrderItems      int
	UpsertCustomer        int
	SelectInventory       int
	SelectRecentCustomers int
}

func (c Calls) Total() int {
	return c.InsertOrder + c.InsertOrderItems + c.UpsertCustomer + c.SelectInventory + c.SelectRecentCustomers
}

func (c Calls) Writes() int {
	return c.InsertOrder + c.InsertOrderItems + c.UpsertCustomer
}

// Memory is an in-process Repository. It backs the "memory" remote driver
// and lets tests inject failures per call.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	orders    map[string]Order
	order     []string
	items     map[string]map[int]OrderItem
	customers map[string]CustomerRow
	inventory map[string]InventoryRow
	calls     Calls

	// Fail hooks run before the matching call; a non-nil error aborts it.
	FailInsertOrder      func(Order) error
	FailInsertOrderItems func([]OrderItem) error
	FailUpsertCustomer   func(Customer) error
	FailSelect           func() error
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		now:       time.Now,
		orders:    make(map[string]Order),
		items:     make(map[string]map[int]OrderItem),
		customers: make(map[string]CustomerRow),
		inventory: make(map[string]InventoryRow),
	}
}

func (m *Memory) InsertOrder(ctx context.Context, order Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.InsertOrder++

	if m.FailInsertOrder != nil {
		if err := m.FailInsertOrder(order); err != nil {
			return Order{}, err
		}
	}
	if order.ID == "" {
		return Order{}, fmt.Errorf("%w: order without id", ErrInvalid)
	}
	if existing, ok := m.orders[order.ID]; ok {
		return existing, nil
	}
	order.ReceivedAt = m.now().UTC()
	m.orders[order.ID] = order
	m.order = append(m.order, order.ID)
	return order, nil
}

func (m *Memory) InsertOrderItems(ctx context.Context, items []OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.InsertOrderItems++

	if m.FailInsertOrderItems != nil {
		if err := m.FailInsertOrderItems(items); err != nil {
			return err
		}
	}
	for _, it := range items {
		if _, ok := m.orders[it.OrderID]; !ok {
			return fmt.Errorf("%w: item for unknown order %s", ErrInvalid, it.OrderID)
		}
	}
	for _, it := range items {
		lines := m.items[it.OrderID]
		if lines == nil {
			lines = make(map[int]OrderItem)
			m.items[it.OrderID] = lines
		}
		lines[it.LineNo] = it
	}
	return nil
}

func (m *Memory) UpsertCustomer(ctx context.Context, c Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.UpsertCustomer++

	if m.FailUpsertCustomer != nil {
		if err := m.FailUpsertCustomer(c); err != nil {
			return err
		}
	}
	if c.ID == "" {
		return fmt.Errorf("%w: customer without id", ErrInvalid)
	}
	row := CustomerRow{ID: c.ID, Email: c.Email, Phone: c.Phone, Name: c.Name, CreatedAt: c.CreatedAt.UTC()}
	if existing, ok := m.customers[c.ID]; ok {
		row.CreatedAt = existing.CreatedAt
	}
	row.UpdatedAt = m.now().UTC()
	m.customers[c.ID] = row
	return nil
}

func (m *Memory) SelectInventory(ctx context.Context, filter InventoryFilter) ([]InventoryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.SelectInventory++

	if m.FailSelect != nil {
		if err := m.FailSelect(); err != nil {
			return nil, err
		}
	}
	var out []InventoryRow
	for _, row := range m.inventory {
		if filter.LocationID != "" && row.LocationID != filter.LocationID {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return inventoryKey(out[i]) < inventoryKey(out[j])
	})
	return out, nil
}

func (m *Memory) SelectRecentCustomers(ctx context.Context, since time.Time) ([]CustomerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.SelectRecentCustomers++

	if m.FailSelect != nil {
		if err := m.FailSelect(); err != nil {
			return nil, err
		}
	}
	var out []CustomerRow
	for _, row := range m.customers {
		if row.CreatedAt.Before(since) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetInventory replaces (or adds) a stock row, standing in for restock
// flows that happen on the remote side.
func (m *Memory) SetInventory(row InventoryRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = m.now().UTC()
	}
	m.inventory[inventoryKey(row)] = row
}

// SetCustomer stores a customer as if another device had created it.
func (m *Memory) SetCustomer(row CustomerRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = m.now().UTC()
	}
	m.customers[row.ID] = row
}

// Orders returns stored orders in the order they were first inserted.
func (m *Memory) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.orders[id])
	}
	return out
}

// Items returns the lines of one order sorted by line number.
func (m *Memory) Items(orderID string) []OrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.items[orderID]
	out := make([]OrderItem, 0, len(lines))
	for _, it := range lines {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNo < out[j].LineNo })
	return out
}

func (m *Memory) Customer(id string) (CustomerRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.customers[id]
	return row, ok
}

func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = Calls{}
}

func inventoryKey(r InventoryRow) string {
	return r.ProductID + "/" + r.VariantID + "/" + r.LocationID
}

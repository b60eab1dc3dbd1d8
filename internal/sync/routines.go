package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/remote"
	"pos-sync-service/internal/store"
)

// Routines translate local mutations into remote store calls.
type Routines struct {
	repo       remote.Repository
	signingKey []byte
}

func NewRoutines(repo remote.Repository, signingKey []byte) *Routines {
	return &Routines{repo: repo, signingKey: signingKey}
}

// Apply uploads one mutation.
func (r *Routines) Apply(ctx context.Context, m Mutation) error {
	switch m := m.(type) {
	case *TransactionMutation:
		return r.syncTransaction(ctx, m)
	case *InventoryMutation:
		return r.syncInventory(ctx, m)
	case *CustomerMutation:
		return r.syncCustomer(ctx, m)
	case nil:
		return ErrUnknownEntity
	default:
		return &UnknownEntityError{EntryID: m.Entry().ID, Table: m.Table()}
	}
}

type orderMetadata struct {
	DeviceID      string `json:"device_id"`
	ReceiptNumber string `json:"receipt_number"`
	PaymentMethod string `json:"payment_method"`
	Signature     string `json:"signature,omitempty"`
}

// syncTransaction writes the order and then its items. An items failure
// fails the routine; the retry repeats both writes, which the remote store
// treats as upserts.
func (r *Routines) syncTransaction(ctx context.Context, m *TransactionMutation) error {
	if op := m.Entry().Operation; op != store.OpCreate {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, op, m.Table())
	}
	tx := m.Transaction

	if len(r.signingKey) > 0 && tx.Signature != "" && !tx.Verify(r.signingKey) {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrSignatureMismatch)
	}

	order, items, err := orderFromTransaction(tx)
	if err != nil {
		return err
	}

	if _, err := r.repo.InsertOrder(ctx, order); err != nil {
		return fmt.Errorf("insert order %s: %w", tx.ID, err)
	}
	if err := r.repo.InsertOrderItems(ctx, items); err != nil {
		return fmt.Errorf("order %s: %w: %v", tx.ID, remote.ErrItemsWrite, err)
	}

	logger.Log.Debug("Uploaded transaction",
		zap.String("id", tx.ID),
		zap.String("receipt", tx.ReceiptNumber),
		zap.Int("items", len(items)),
	)
	return nil
}

func orderFromTransaction(tx store.PendingTransaction) (remote.Order, []remote.OrderItem, error) {
	metadata, err := json.Marshal(orderMetadata{
		DeviceID:      tx.DeviceID,
		ReceiptNumber: tx.ReceiptNumber,
		PaymentMethod: tx.PaymentMethod,
		Signature:     tx.Signature,
	})
	if err != nil {
		return remote.Order{}, nil, err
	}

	order := remote.Order{
		ID:            tx.ID,
		StoreID:       tx.StoreID,
		CustomerID:    tx.CustomerID,
		PaymentMethod: tx.PaymentMethod,
		Subtotal:      tx.Subtotal,
		Tax:           tx.Tax,
		Discount:      tx.Discount,
		Total:         tx.Total,
		Status:        string(store.StatusCompleted),
		Metadata:      metadata,
		CreatedAt:     tx.CapturedAt,
	}

	items := make([]remote.OrderItem, 0, len(tx.Items))
	for i, it := range tx.Items {
		items = append(items, remote.OrderItem{
			OrderID:   tx.ID,
			LineNo:    i + 1,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
			TaxRate:   it.TaxRate,
		})
	}
	return order, items, nil
}

// syncInventory uploads nothing. Stock authority is remote and flows down
// through reconciliation; local decrements are observational.
func (r *Routines) syncInventory(ctx context.Context, m *InventoryMutation) error {
	logger.Log.Debug("Skipping inventory upload", zap.String("key", m.SourceID()))
	return nil
}

func (r *Routines) syncCustomer(ctx context.Context, m *CustomerMutation) error {
	if op := m.Entry().Operation; op == store.OpDelete {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, op, m.Table())
	}
	c := m.Customer
	err := r.repo.UpsertCustomer(ctx, remote.Customer{
		ID:        c.ID,
		Email:     c.Email,
		Phone:     c.Phone,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", c.ID, err)
	}
	return nil
}

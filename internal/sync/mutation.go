package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pos-sync-service/internal/store"
)

var (
	ErrUnknownEntity        = errors.New("unknown entity")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrSignatureMismatch    = errors.New("transaction signature mismatch")
)

// UnknownEntityError reports a queue entry whose table or payload cannot be
// mapped to a mutation. Retrying it can never succeed.
type UnknownEntityError struct {
	EntryID string
	Table   string
	Err     error
}

func (e *UnknownEntityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("queue entry %s: unknown entity %q: %v", e.EntryID, e.Table, e.Err)
	}
	return fmt.Sprintf("queue entry %s: unknown entity %q", e.EntryID, e.Table)
}

func (e *UnknownEntityError) Is(target error) bool {
	return target == ErrUnknownEntity
}

func (e *UnknownEntityError) Unwrap() error {
	return e.Err
}

// Mutation is one decoded queue entry. The concrete types below are the only
// implementations; routines switch over them exhaustively.
type Mutation interface {
	Entry() *store.SyncQueueEntry
	Table() string
	SourceID() string
	mutation()
}

type TransactionMutation struct {
	entry       *store.SyncQueueEntry
	Transaction store.PendingTransaction
}

type InventoryMutation struct {
	entry    *store.SyncQueueEntry
	Snapshot store.InventorySnapshot
}

type CustomerMutation struct {
	entry    *store.SyncQueueEntry
	Customer store.CustomerCache
}

func (m *TransactionMutation) Entry() *store.SyncQueueEntry { return m.entry }
func (m *TransactionMutation) Table() string                { return store.TableTransactions }
func (m *TransactionMutation) SourceID() string             { return m.Transaction.ID }
func (*TransactionMutation) mutation()                      {}

func (m *InventoryMutation) Entry() *store.SyncQueueEntry { return m.entry }
func (m *InventoryMutation) Table() string                { return store.TableInventory }
func (m *InventoryMutation) SourceID() string             { return m.Snapshot.Key() }
func (*InventoryMutation) mutation()                      {}

func (m *CustomerMutation) Entry() *store.SyncQueueEntry { return m.entry }
func (m *CustomerMutation) Table() string                { return store.TableCustomers }
func (m *CustomerMutation) SourceID() string             { return m.Customer.ID }
func (*CustomerMutation) mutation()                      {}

// Decode turns a queue entry into its typed mutation. Unknown tables and
// payloads that do not decode return an *UnknownEntityError.
func Decode(e *store.SyncQueueEntry) (Mutation, error) {
	unknown := func(err error) error {
		return &UnknownEntityError{EntryID: e.ID, Table: e.Table, Err: err}
	}

	switch e.Table {
	case store.TableTransactions:
		m := &TransactionMutation{entry: e}
		if err := json.Unmarshal(e.Payload, &m.Transaction); err != nil {
			return nil, unknown(err)
		}
		if strings.TrimSpace(m.Transaction.ID) == "" {
			return nil, unknown(errors.New("transaction payload without id"))
		}
		return m, nil

	case store.TableInventory:
		m := &InventoryMutation{entry: e}
		if err := json.Unmarshal(e.Payload, &m.Snapshot); err != nil {
			return nil, unknown(err)
		}
		return m, nil

	case store.TableCustomers:
		m := &CustomerMutation{entry: e}
		if err := json.Unmarshal(e.Payload, &m.Customer); err != nil {
			return nil, unknown(err)
		}
		if strings.TrimSpace(m.Customer.ID) == "" {
			return nil, unknown(errors.New("customer payload without id"))
		}
		return m, nil
	}
	return nil, unknown(nil)
}

// permanent reports errors that will fail the same way on every retry.
func permanent(err error) bool {
	return errors.Is(err, ErrUnknownEntity) ||
		errors.Is(err, ErrUnsupportedOperation) ||
		errors.Is(err, ErrSignatureMismatch)
}

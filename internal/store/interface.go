package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the local durable store. It owns every table; nothing else in the
// process touches the database file.
type Store interface {
	// Point-of-sale writers
	AppendTransaction(ctx context.Context, tx *PendingTransaction) error
	GetTransaction(ctx context.Context, id string) (*PendingTransaction, error)
	DecrementStock(ctx context.Context, productID, variantID, locationID string, qty int64) (int64, error)
	CreateCustomer(ctx context.Context, c *CustomerCache) error
	GetCustomer(ctx context.Context, id string) (*CustomerCache, error)
	GetInventory(ctx context.Context, productID, variantID, locationID string) (*InventorySnapshot, error)

	// Sync state transitions
	ListUnsynced(ctx context.Context, table string) ([]json.RawMessage, error)
	MarkSynced(ctx context.Context, table, id string) error
	MarkFailed(ctx context.Context, table, id string, cause error) error

	// Download reconciliation
	UpsertInventory(ctx context.Context, rows []InventorySnapshot) (int, error)
	UpsertCustomersFromRemote(ctx context.Context, rows []CustomerCache) (int, error)

	// Queue
	Enqueue(ctx context.Context, op Operation, table string, payload json.RawMessage) (*SyncQueueEntry, error)
	PendingEntries(ctx context.Context, afterSeq int64, limit, maxRetries int) ([]*SyncQueueEntry, error)
	CompleteEntry(ctx context.Context, id string) error
	FailEntry(ctx context.Context, id, reason string) (int, error)
	ForceStuck(ctx context.Context, id, reason string, maxRetries int) error
	ResetRetries(ctx context.Context, maxRetries int) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	CountStuck(ctx context.Context, maxRetries int) (int64, error)

	// History
	CreateSyncHistory(ctx context.Context, h *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, h *SyncHistory) error
	ListSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// Maintenance
	PurgeSynced(ctx context.Context, before time.Time) (PurgeResult, error)
	Stats(ctx context.Context, maxRetries int) (*Stats, error)

	Close() error
}

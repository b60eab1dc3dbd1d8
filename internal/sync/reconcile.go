package sync

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/remote"
	"pos-sync-service/internal/store"
)

// Reconciler refreshes the local read caches from the remote store. Remote
// always wins for inventory; for customers it wins except over rows still
// waiting to be uploaded.
type Reconciler struct {
	store      store.Store
	repo       remote.Repository
	locationID string
	lookback   time.Duration
	now        func() time.Time
}

func NewReconciler(s store.Store, repo remote.Repository, locationID string, lookback time.Duration) *Reconciler {
	return &Reconciler{
		store:      s,
		repo:       repo,
		locationID: locationID,
		lookback:   lookback,
		now:        time.Now,
	}
}

type ReconcileResult struct {
	Inventory   int `json:"inventory"`
	Unchanged   int `json:"unchanged"`
	Overwritten int `json:"overwritten"`
	Customers   int `json:"customers"`
}

func (r ReconcileResult) Downloaded() int {
	return r.Inventory + r.Customers
}

// Run downloads both caches. A failure in one half does not stop the other;
// the joined error is returned for logging.
func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	invErr := r.reconcileInventory(ctx, &res)
	custErr := r.reconcileCustomers(ctx, &res)
	return res, errors.Join(invErr, custErr)
}

func (r *Reconciler) reconcileInventory(ctx context.Context, res *ReconcileResult) error {
	rows, err := r.repo.SelectInventory(ctx, remote.InventoryFilter{LocationID: r.locationID})
	if err != nil {
		return fmt.Errorf("download inventory: %w", err)
	}

	changed := make([]store.InventorySnapshot, 0, len(rows))
	for _, row := range rows {
		incoming := store.InventorySnapshot{
			ProductID:     row.ProductID,
			VariantID:     row.VariantID,
			LocationID:    row.LocationID,
			SKU:           row.SKU,
			Title:         row.Title,
			CurrentStock:  row.CurrentStock,
			ReservedStock: row.ReservedStock,
		}

		if incoming.CurrentStock < 0 {
			logger.Log.Warn("Ignoring negative remote stock", zap.String("key", incoming.Key()), zap.Int64("stock", incoming.CurrentStock))
			continue
		}

		local, err := r.store.GetInventory(ctx, row.ProductID, row.VariantID, row.LocationID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case !local.Dirty && snapshotHash(*local) == snapshotHash(incoming):
			res.Unchanged++
			continue
		case local.Dirty && local.CurrentStock != incoming.CurrentStock:
			res.Overwritten++
			logger.Log.Info("Remote stock overrides local decrement",
				zap.String("key", incoming.Key()),
				zap.Int64("local", local.CurrentStock),
				zap.Int64("remote", incoming.CurrentStock),
			)
		}
		changed = append(changed, incoming)
	}

	n, err := r.store.UpsertInventory(ctx, changed)
	if err != nil {
		return err
	}
	res.Inventory = n
	return nil
}

func (r *Reconciler) reconcileCustomers(ctx context.Context, res *ReconcileResult) error {
	since := r.now().Add(-r.lookback)
	rows, err := r.repo.SelectRecentCustomers(ctx, since)
	if err != nil {
		return fmt.Errorf("download customers: %w", err)
	}

	cached := make([]store.CustomerCache, 0, len(rows))
	for _, row := range rows {
		cached = append(cached, store.CustomerCache{
			ID:        row.ID,
			Email:     row.Email,
			Phone:     row.Phone,
			Name:      row.Name,
			CreatedAt: row.CreatedAt,
		})
	}

	n, err := r.store.UpsertCustomersFromRemote(ctx, cached)
	if err != nil {
		return err
	}
	res.Customers = n
	return nil
}

// snapshotHash covers the fields the remote store is authoritative for.
func snapshotHash(s store.InventorySnapshot) string {
	bytes, _ := json.Marshal([]any{s.ProductID, s.VariantID, s.LocationID, s.SKU, s.Title, s.CurrentStock, s.ReservedStock})
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}

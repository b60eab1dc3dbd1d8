package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Table names double as the sync queue's target table values.
const (
	TableTransactions = "pending_transactions"
	TableInventory    = "inventory_snapshot"
	TableCustomers    = "customer_cache"
	TableSyncQueue    = "sync_queue"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusSynced    TransactionStatus = "synced"
	StatusFailed    TransactionStatus = "failed"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// LineItem amounts are in minor currency units.
type LineItem struct {
	ProductID string  `json:"product_id"`
	VariantID string  `json:"variant_id"`
	Quantity  int64   `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	LineTotal int64   `json:"line_total"`
	TaxRate   float64 `json:"tax_rate"`
}

type PendingTransaction struct {
	ID              string            `json:"id"`
	StoreID         string            `json:"store_id"`
	CustomerID      *string           `json:"customer_id,omitempty"`
	Items           []LineItem        `json:"items"`
	PaymentMethod   string            `json:"payment_method"`
	Subtotal        int64             `json:"subtotal"`
	Tax             int64             `json:"tax"`
	Discount        int64             `json:"discount"`
	Total           int64             `json:"total"`
	Status          TransactionStatus `json:"status"`
	CapturedAt      time.Time         `json:"captured_at"`
	DeviceID        string            `json:"device_id"`
	ReceiptNumber   string            `json:"receipt_number"`
	RetryCount      int               `json:"retry_count"`
	LastSyncAttempt *time.Time        `json:"last_sync_attempt,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	Signature       string            `json:"signature,omitempty"`
}

// ComputeTotals fills line totals, subtotal, tax and total from the items and
// the discount. It is meant for the capture path only; sync never calls it.
func (t *PendingTransaction) ComputeTotals() {
	var subtotal int64
	var tax float64
	for i := range t.Items {
		it := &t.Items[i]
		it.LineTotal = it.Quantity * it.UnitPrice
		subtotal += it.LineTotal
		tax += float64(it.LineTotal) * it.TaxRate
	}
	t.Subtotal = subtotal
	t.Tax = int64(tax + 0.5)
	t.Total = t.Subtotal + t.Tax - t.Discount
}

func (t *PendingTransaction) TotalsValid() bool {
	return t.Total == t.Subtotal+t.Tax-t.Discount
}

func (t *PendingTransaction) signingPayload() []byte {
	c := *t
	c.Signature = ""
	c.Status = ""
	c.RetryCount = 0
	c.LastSyncAttempt = nil
	c.LastError = ""
	b, _ := json.Marshal(c)
	return b
}

// Sign sets an HMAC-SHA256 signature over the capture-time fields.
func (t *PendingTransaction) Sign(key []byte) {
	mac := hmac.New(sha256.New, key)
	mac.Write(t.signingPayload())
	t.Signature = hex.EncodeToString(mac.Sum(nil))
}

func (t *PendingTransaction) Verify(key []byte) bool {
	want, err := hex.DecodeString(t.Signature)
	if err != nil || len(want) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(t.signingPayload())
	return hmac.Equal(mac.Sum(nil), want)
}

type InventorySnapshot struct {
	ProductID     string     `json:"product_id"`
	VariantID     string     `json:"variant_id"`
	LocationID    string     `json:"location_id"`
	SKU           string     `json:"sku"`
	Title         string     `json:"title"`
	CurrentStock  int64      `json:"current_stock"`
	ReservedStock int64      `json:"reserved_stock"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	Dirty         bool       `json:"dirty"`
}

// Key is the composite identifier used as the row id in queue payloads.
func (s InventorySnapshot) Key() string {
	return s.ProductID + "/" + s.VariantID + "/" + s.LocationID
}

type CustomerCache struct {
	ID            string     `json:"id"`
	Email         *string    `json:"email,omitempty"`
	Phone         *string    `json:"phone,omitempty"`
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"created_at"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	PendingUpload bool       `json:"pending_upload"`
}

type SyncQueueEntry struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Operation  Operation       `json:"operation"`
	Table      string          `json:"table"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	Synced     bool            `json:"synced"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

type SyncHistory struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Attempted    int        `json:"attempted"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	Downloaded   int        `json:"downloaded"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// TableStats holds row counts for one table.
type TableStats struct {
	Total    int64 `json:"total"`
	Unsynced int64 `json:"unsynced"`
}

type Stats struct {
	Transactions TableStats `json:"pending_transactions"`
	Inventory    TableStats `json:"inventory_snapshot"`
	Customers    TableStats `json:"customer_cache"`
	Queue        TableStats `json:"sync_queue"`
	QueueStuck   int64      `json:"sync_queue_stuck"`
}

// PurgeResult reports what a retention sweep removed.
type PurgeResult struct {
	Transactions int64 `json:"transactions"`
	QueueEntries int64 `json:"queue_entries"`
	History      int64 `json:"history"`
}

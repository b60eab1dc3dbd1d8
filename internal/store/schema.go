package store

// Timestamps are unix milliseconds. Schema evolution is limited to
// create-if-not-exists.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pending_transactions (
		id                TEXT PRIMARY KEY,
		store_id          TEXT NOT NULL,
		customer_id       TEXT,
		items             TEXT NOT NULL,
		payment_method    TEXT NOT NULL,
		subtotal          INTEGER NOT NULL,
		tax               INTEGER NOT NULL,
		discount          INTEGER NOT NULL DEFAULT 0,
		total             INTEGER NOT NULL,
		status            TEXT NOT NULL CHECK(status IN ('pending','completed','synced','failed')),
		captured_at       INTEGER NOT NULL,
		device_id         TEXT NOT NULL,
		receipt_number    TEXT NOT NULL,
		retry_count       INTEGER NOT NULL DEFAULT 0,
		last_sync_attempt INTEGER,
		last_error        TEXT NOT NULL DEFAULT '',
		signature         TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_transactions_status
		ON pending_transactions(status, captured_at)`,
	`CREATE TABLE IF NOT EXISTS inventory_snapshot (
		product_id     TEXT NOT NULL,
		variant_id     TEXT NOT NULL,
		location_id    TEXT NOT NULL,
		sku            TEXT NOT NULL DEFAULT '',
		title          TEXT NOT NULL DEFAULT '',
		current_stock  INTEGER NOT NULL CHECK(current_stock >= 0),
		reserved_stock INTEGER NOT NULL DEFAULT 0,
		last_sync      INTEGER,
		dirty          INTEGER NOT NULL DEFAULT 0,
		dirty_since    INTEGER,
		PRIMARY KEY (product_id, variant_id, location_id)
	)`,
	`CREATE TABLE IF NOT EXISTS customer_cache (
		id             TEXT PRIMARY KEY,
		email          TEXT,
		phone          TEXT,
		name           TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		last_sync      INTEGER,
		pending_upload INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		operation   TEXT NOT NULL CHECK(operation IN ('create','update','delete')),
		table_name  TEXT NOT NULL,
		payload     TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT NOT NULL DEFAULT '',
		synced      INTEGER NOT NULL DEFAULT 0,
		synced_at   INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_pending
		ON sync_queue(synced, seq)`,
	`CREATE TABLE IF NOT EXISTS sync_history (
		id            TEXT PRIMARY KEY,
		started_at    INTEGER NOT NULL,
		completed_at  INTEGER,
		attempted     INTEGER NOT NULL DEFAULT 0,
		succeeded     INTEGER NOT NULL DEFAULT 0,
		failed        INTEGER NOT NULL DEFAULT 0,
		downloaded    INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
}

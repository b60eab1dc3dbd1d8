package store

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID       = errors.New("duplicate id")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTotals     = errors.New("total does not equal subtotal + tax - discount")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrUnknownTable      = errors.New("unknown table")
	ErrAlreadySynced     = errors.New("row already synced")
)

// StorageInitError is returned by Open when the store cannot be created.
// It is fatal: the caller should surface it rather than retry.
type StorageInitError struct {
	Path string
	Err  error
}

func (e *StorageInitError) Error() string {
	return fmt.Sprintf("storage init %s: %v", e.Path, e.Err)
}

func (e *StorageInitError) Unwrap() error {
	return e.Err
}

type InsufficientStockError struct {
	ProductID  string
	VariantID  string
	LocationID string
	Available  int64
	Requested  int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s/%s at %s: have %d, want %d",
		e.ProductID, e.VariantID, e.LocationID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecTxKeepsTypedErrorWhenRollbackFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &SQLiteStore{db: db, now: time.Now}

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("disk I/O error"))

	err = s.execTx(context.Background(), func(tx *sql.Tx) error {
		return &InsufficientStockError{ProductID: "P1", VariantID: "V1", LocationID: "L1", Available: 1, Requested: 3}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.Available)

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("disk I/O error"))
	err = s.execTx(context.Background(), func(tx *sql.Tx) error { return ErrDuplicateID })
	assert.ErrorIs(t, err, ErrDuplicateID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS plans")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Wrap(conn).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_WrapsError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err = Wrap(conn).Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to migrate schema")
}

func TestHealth(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	health := Wrap(conn).Health(context.Background())
	assert.Equal(t, "unhealthy", health["status"])
	assert.Equal(t, "connection refused", health["error"])
}

func TestSchema_DeclaresUniquenessIndexes(t *testing.T) {
	assert.Contains(t, Schema, "ON subscriptions(customer_id) WHERE status = 'ACTIVE'")
	assert.Contains(t, Schema, "ON invoice_items(subscription_id, period_start) WHERE type = 'SUBSCRIPTION'")
	assert.Contains(t, Schema, "invoice_id VARCHAR(64) NOT NULL UNIQUE")
}

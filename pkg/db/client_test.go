package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	legacypgconn "github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/parkez/parkez-backend/pkg/config"
)

type plate struct {
	ID     int
	Number string `gorm:"uniqueIndex"`
}

func openSQLite(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&plate{}))
	return client
}

func countPlates(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&plate{}).Count(&n).Error)
	return n
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: config.DriverSQLite}, nil)
	require.Error(t, err)
}

func TestDialectorFollowsDriver(t *testing.T) {
	assert.IsType(t, &sqlite.Dialector{}, dialector(config.DBConfig{Driver: "SQLite", DSN: "file::memory:"}))
	assert.IsType(t, &postgres.Dialector{}, dialector(config.DBConfig{Driver: config.DriverPostgres, DSN: "postgres://x"}))
}

func TestWithTxCommitsOrRollsBack(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&plate{Number: "KA-01"}).Error
	}))
	require.EqualValues(t, 1, countPlates(t, client))

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&plate{Number: "KA-02"}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 1, countPlates(t, client))
}

func TestPingAndSQLHandle(t *testing.T) {
	client := openSQLite(t)
	require.NoError(t, client.Ping(context.Background()))

	sqlDB, err := client.SQL()
	require.NoError(t, err)
	require.NoError(t, sqlDB.PingContext(context.Background()))
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	client := openSQLite(t)
	require.NoError(t, client.DB().Create(&plate{Number: "dup"}).Error)

	err := client.DB().Create(&plate{Number: "dup"}).Error
	assert.True(t, IsUniqueViolation(err, "ux_anything"), "got %v", err)
}

func TestIsUniqueViolationPostgresDrivers(t *testing.T) {
	const constraint = "ux_reservations_user_active"
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":                  {nil, false},
		"pgx match":            {&pgconn.PgError{Code: "23505", ConstraintName: constraint}, true},
		"pgx other constraint": {&pgconn.PgError{Code: "23505", ConstraintName: "parking_spots_pkey"}, false},
		"pgx other code":       {&pgconn.PgError{Code: "23503", ConstraintName: constraint}, false},
		"legacy pgconn":        {fmt.Errorf("insert: %w", &legacypgconn.PgError{Code: "23505", ConstraintName: constraint}), true},
		"lib/pq":               {&pq.Error{Code: "23505", Constraint: constraint}, true},
		"message fallback":     {errors.New(`duplicate key value violates unique constraint "ux_reservations_user_active"`), true},
		"unrelated":            {errors.New("connection refused"), false},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, IsUniqueViolation(tc.err, constraint), name)
	}
}

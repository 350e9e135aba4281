// Package dbtest opens isolated in-memory SQLite databases with the full schema.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// Open returns a migrated client backed by a private in-memory database.
// The pool holds a single connection, so code under test must only use the
// tx handle inside a transaction.
func Open(t testing.TB, name string) *db.Client {
	t.Helper()
	cfg := config.DBConfig{
		Driver:       config.DriverSQLite,
		DSN:          fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=on", name, uuid.NewString()),
		MaxOpenConns: 1,
	}
	client, err := db.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.DB().AutoMigrate(models.All()...); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return client
}

// SeedUser inserts a user with the given role.
func SeedUser(t testing.TB, client *db.Client, username string, role enums.UserRole) models.User {
	t.Helper()
	user := models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		Role:         role,
	}
	if err := client.DB().Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedLot inserts a lot with capacity spots numbered "1".."capacity", all Available.
func SeedLot(t testing.TB, client *db.Client, name string, rate string, capacity int) models.ParkingLot {
	t.Helper()
	lot := models.ParkingLot{
		Name:         name,
		Address:      name + " street",
		PricePerHour: decimal.RequireFromString(rate),
		Capacity:     capacity,
	}
	if err := client.DB().Create(&lot).Error; err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	for i := 1; i <= capacity; i++ {
		spot := models.ParkingSpot{LotID: lot.ID, Number: fmt.Sprint(i), Status: enums.SpotStatusAvailable}
		if err := client.DB().Create(&spot).Error; err != nil {
			t.Fatalf("seed spot: %v", err)
		}
	}
	return lot
}

// Spots returns the lot's spots ordered by id.
func Spots(t testing.TB, client *db.Client, lotID int64) []models.ParkingSpot {
	t.Helper()
	var spots []models.ParkingSpot
	if err := client.DB().Where("lot_id = ?", lotID).Order("id ASC").Find(&spots).Error; err != nil {
		t.Fatalf("load spots: %v", err)
	}
	return spots
}

package db

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medikiosk/config"
	"medikiosk/internal/model"
)

func TestInitSQLiteMigratesLedgerTables(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	}

	gormDB, err := Init(cfg)
	require.NoError(t, err)
	defer Close(gormDB)

	assert.True(t, gormDB.Migrator().HasTable(&model.MedicineSlot{}))
	assert.True(t, gormDB.Migrator().HasTable(&model.DispenseEvent{}))
	assert.True(t, gormDB.Migrator().HasTable(&model.PushSubscription{}))
}

func TestInitRejectsUnknownDriver(t *testing.T) {
	_, err := Init(&config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

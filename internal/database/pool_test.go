package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

type note struct {
	ID   uint
	Body string
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

func openMemory(t *testing.T) *PoolManager {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	pm, err := Open("sqlite", dsn, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	require.NoError(t, pm.DB().AutoMigrate(&note{}))
	return pm
}

func TestOpen_SQLiteMemory(t *testing.T) {
	pm := openMemory(t)

	assert.NoError(t, pm.Ping(context.Background()))
	assert.Equal(t, 4, pm.Stats().MaxOpenConnections)
}

func TestOpen_SQLiteFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "circle.db")
	pm, err := Open("sqlite", path, testPoolConfig(), nil)
	require.NoError(t, err)
	defer pm.Close()

	assert.NoError(t, pm.Ping(context.Background()))
	assert.FileExists(t, path)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open("oracle", "x", testPoolConfig(), nil)
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = Open("sqlite", ":memory:", PoolConfig{}, nil)
	assert.ErrorContains(t, err, "max_open_conns")
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "postgresql", "mysql"} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}
}

func TestPoolManager_OnStats(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	pm, err := Open("sqlite", dsn, cfg, nil)
	require.NoError(t, err)
	defer pm.Close()

	got := make(chan sql.DBStats, 1)
	pm.OnStats(func(s sql.DBStats) {
		select {
		case got <- s:
		default:
		}
	})

	select {
	case s := <-got:
		assert.Equal(t, 4, s.MaxOpenConnections)
	case <-time.After(2 * time.Second):
		t.Fatal("stats callback not invoked")
	}
}

func TestPoolManager_Close(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	pm, err := Open("sqlite", dsn, cfg, nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())

	assert.Error(t, pm.Ping(context.Background()))
}

func TestPoolManager_PingFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	pm, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, pm.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid config", testPoolConfig(), false},
		{"invalid max open conns", PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, true},
		{"invalid max idle conns", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, true},
		{"idle > open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

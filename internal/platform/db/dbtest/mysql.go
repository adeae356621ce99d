// Package dbtest は Store の結合テスト用に使い捨ての MySQL を立てる
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"LERS-backend/internal/platform/db"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"go.uber.org/zap/zaptest"
)

// Open はコンテナを起動しマイグレーション済みの *sql.DB を返す。
// TEST_INTEGRATION が未設定ならスキップ
func Open(t *testing.T) *sql.DB {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tcmysql.Run(ctx,
		"mysql:8.0.36",
		tcmysql.WithDatabase("lers_test"),
		tcmysql.WithUsername("lers"),
		tcmysql.WithPassword("test-password"),
	)
	require.NoError(t, err, "start mysql container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate mysql container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx,
		"parseTime=true", "loc=UTC", "multiStatements=true", "clientFoundRows=true")
	require.NoError(t, err)

	conn, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.PingContext(ctx))

	require.NoError(t, db.Migrate(conn, zaptest.NewLogger(t)))
	return conn
}

// Exec は前提データ投入用
func Exec(t *testing.T, conn *sql.DB, q string, args ...any) {
	t.Helper()
	_, err := conn.ExecContext(context.Background(), q, args...)
	require.NoError(t, err, q)
}

package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a ClickHouse container and returns a connection with
// the sale_events table created.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "test",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port()))
	require.NoError(t, err)

	// The migrations package imports this one, so apply the schema inline.
	require.NoError(t, conn.Exec(ctx, saleEventsDDL))

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}
	return conn, cleanup
}

const saleEventsDDL = `
	CREATE TABLE IF NOT EXISTS sale_events (
		event_id         String,
		sale_id          String,
		kind             LowCardinality(String),
		contributor      String,
		asset            String,
		phase            LowCardinality(String),
		usd_value        UInt64,
		tokens           UInt64,
		amount           UInt64,
		fee              UInt64,
		total_raised_usd UInt64,
		total_sold       UInt64,
		lp_eligible      UInt8,
		attestation_id   String,
		timestamp        Int64
	) ENGINE = ReplacingMergeTree()
	ORDER BY (sale_id, timestamp, event_id)
`

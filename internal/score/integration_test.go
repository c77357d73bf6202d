package score

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/attnx/tournament-engine/internal/model"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestRedisProvider(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	p := NewRedisProvider(rdb)
	ctx := context.Background()

	asOf := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(ctx, Score{TargetID: "btc", Value: d(1234.5), AsOf: asOf}))

	s, err := p.CurrentScore(ctx, "btc")
	require.NoError(t, err)
	assert.True(t, s.Value.Equal(d(1234.5)))
	assert.True(t, s.AsOf.Equal(asOf))

	_, err = p.CurrentScore(ctx, "eth")
	assert.True(t, errors.Is(err, model.ErrScoreUnavailable))
}

func TestClickHouseHistory(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{"CLICKHOUSE_DB": "test", "CLICKHOUSE_USER": "default", "CLICKHOUSE_PASSWORD": ""},
	}, "9000/tcp")

	ctx := context.Background()
	conn, err := OpenClickHouse(ctx, fmt.Sprintf("clickhouse://%s/test", addr))
	require.NoError(t, err)
	defer conn.Close()

	h := NewClickHouseHistory(conn)
	require.NoError(t, h.EnsureSchema(ctx))

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.Record(ctx, "btc", []Point{
		{At: base, Value: d(10)},
		{At: base.Add(time.Hour), Value: d(12.5)},
		{At: base.Add(2 * time.Hour), Value: d(11)},
	}))

	pts, err := h.Series(ctx, "btc", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.True(t, pts[1].Value.Equal(d(12.5)))
}

//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestIntegration_RedisLimiter(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb, err := NewRedisClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "")
	require.NoError(t, err)
	defer rdb.Close()

	limiter := NewRedisLimiter(rdb, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, retry, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retry, time.Duration(0))
	require.LessOrEqual(t, retry, time.Minute)

	ok, _, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, ok)
}

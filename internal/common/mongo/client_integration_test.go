//go:build integration

package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"go.poresolve.tech/internal/config"
)

// startMongoContainer boots a bare mongod for tests that need a real
// MongoDB connection (index creation, transactions) rather than the
// miniredis-style in-memory fake used elsewhere in the module.
func startMongoContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	return "mongodb://" + host + ":" + port.Port() + "/?directConnection=true"
}

func TestIndexInitializer_CreatesAllCollectionIndexes(t *testing.T) {
	uri := startMongoContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := Connect(ctx, config.MongoDBConfig{URI: uri, Database: "poresolve_test"})
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	require.NoError(t, NewIndexInitializer(client).Initialize(ctx))

	names, err := client.Collection("suppliers").Indexes().ListSpecifications(ctx)
	require.NoError(t, err)
	require.True(t, len(names) >= 2, "expected the unique supplierNumber index plus _id")
}

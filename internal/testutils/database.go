package testutils

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mongodb" // MongoDB driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoContainer represents a MongoDB container for testing purposes.
type MongoContainer struct {
	Container testcontainers.Container
	URI       string

	Name string
	Host string
	Port string
}

// StartMongoContainer starts a MongoDB container for testing purposes.
func StartMongoContainer(t *testing.T) *MongoContainer {
	t.Helper()

	const defaultName = "testdb"

	if runtime.GOOS != "linux" {
		t.Skip("Skipping MongoDB container test on non-Linux OS")
	}

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}
	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Setup: failed to start MongoDB container")
	host, err := container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")

	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err, "Setup: failed to get mapped port")

	uri := fmt.Sprintf("mongodb://%s:%s/%s", host, port.Port(), defaultName)

	return &MongoContainer{
		Container: container,
		URI:       uri,

		Name: defaultName,
		Host: host,
		Port: port.Port(),
	}
}

// Stop stops the MongoDB container.
func (mc *MongoContainer) Stop(ctx context.Context) error {
	return mc.Container.Terminate(ctx)
}

// IsReady checks if the MongoDB database is connectable.
// It will attempt to connect to the database multiple times, each attempt being timeout long at most.
func (mc MongoContainer) IsReady(t *testing.T, timeout time.Duration, attempts int) error {
	t.Helper()

	var err error
	for i := range attempts {
		ctx, cancel := context.WithTimeout(t.Context(), timeout)
		var client *mongo.Client
		client, err = mongo.Connect(ctx, options.Client().ApplyURI(mc.URI))
		if err == nil {
			err = client.Ping(ctx, readpref.Primary())
		}
		cancel()

		if err != nil {
			t.Logf("Attempt %d: failed to connect to database: %v", i+1, err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctx, cancel = context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	}

	return fmt.Errorf("database did not become ready after %d attempts: %v", attempts, err)
}

// ApplyMigrations applies migrations from the specified directory to the database.
func ApplyMigrations(t *testing.T, uri string, migrationsDir string) {
	t.Helper()
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsDir),
		uri,
	)
	require.NoError(t, err, "Setup: failed to create migration instance")
	if err := m.Up(); err != nil {
		require.ErrorIs(t, err, migrate.ErrNoChange, "Setup: failed to apply migrations")
	}
}

// DBListCollections lists all the collections of a database, excluding a blacklist.
func DBListCollections(t *testing.T, uri, dbName string, blacklist ...string) []string {
	t.Helper()

	blacklistMap := make(map[string]bool)
	for _, coll := range blacklist {
		blacklistMap[coll] = true
	}

	client, err := mongo.Connect(t.Context(), options.Client().ApplyURI(uri))
	require.NoError(t, err, "failed to connect to the database")
	defer func() {
		require.NoError(t, client.Disconnect(t.Context()), "failed to close the database connection")
	}()

	names, err := client.Database(dbName).ListCollectionNames(t.Context(), bson.D{})
	require.NoError(t, err, "failed to list collections")

	var collections []string
	for _, name := range names {
		if !blacklistMap[name] {
			collections = append(collections, name)
		}
	}

	return collections
}

package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/power-plant/powerplant/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	user     = "postgres"
	password = "postgres"
	dbName   = "POWER_PLANT_TEST_DB"
)

// SpawnTestDatabase runs a disposable postgres container and returns the
// connection config pointing at it. The container is torn down when the
// test completes. Connecting through database.New applies migrations, so
// callers receive a fully prepared schema.
func SpawnTestDatabase(t *testing.T) database.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(dbName),
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}

	t.Cleanup(func() {
		timeout := 5 * time.Second
		if err := pgContainer.Stop(context.Background(), &timeout); err != nil {
			t.Logf("WARNING: failed to stop postgres container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve postgres container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to resolve postgres container port: %s", err)
	}

	return database.DatabaseConfig{
		Host:     host,
		Port:     port.Port(),
		User:     user,
		Password: password,
		Name:     dbName,
	}
}

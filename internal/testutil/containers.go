// Package testutil starts the backing services used by integration tests.
//
// Each service is started at most once per test binary. Tests that need a
// container are skipped under -short or when no container runtime is
// available.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 3 * time.Minute

type sharedService struct {
	once     sync.Once
	endpoint string
	err      error
}

func (s *sharedService) get(t *testing.T, name string, start func(ctx context.Context) (testcontainers.Container, string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s integration test in short mode", name)
	}

	s.once.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		c, endpoint, err := start(ctx)
		if err != nil {
			_ = testcontainers.TerminateContainer(c) // best-effort cleanup
			s.err = err
			return
		}
		// Ryuk reaps the container when the test binary exits.
		s.endpoint = endpoint
	})

	if s.err != nil {
		t.Skipf("%s container unavailable: %v", name, s.err)
	}
	return s.endpoint
}

var (
	redisSvc    sharedService
	postgresSvc sharedService
	mongoSvc    sharedService
)

// GetRedisAddress returns host:port of a running Redis.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redisSvc.get(t, "redis", func(ctx context.Context) (testcontainers.Container, string, error) {
		c, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			return c, "", err
		}
		endpoint, err := c.Endpoint(ctx, "")
		return c, endpoint, err
	})
}

// GetPostgresEndpoint returns a pgx DSN for a running PostgreSQL.
func GetPostgresEndpoint(t *testing.T) string {
	t.Helper()
	return postgresSvc.get(t, "postgres", func(ctx context.Context) (testcontainers.Container, string, error) {
		c, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://shellguard:shellguard@%s:%s/shellguard_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "shellguard",
				"POSTGRES_PASSWORD": "shellguard",
				"POSTGRES_DB":       "shellguard_test",
			}),
		)
		if err != nil {
			return c, "", err
		}
		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			return c, "", err
		}
		return c, fmt.Sprintf("postgres://shellguard:shellguard@%s/shellguard_test?sslmode=disable", endpoint), nil
	})
}

// GetMongoURI returns a mongodb:// URI for a running MongoDB.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	return mongoSvc.get(t, "mongo", func(ctx context.Context) (testcontainers.Container, string, error) {
		c, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("mongod startup complete"),
			),
		)
		if err != nil {
			return c, "", err
		}
		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			return c, "", err
		}
		return c, "mongodb://" + endpoint, nil
	})
}

package persistence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/shellguard/internal/testutil"
	"github.com/petrijr/shellguard/pkg/api"
)

const redisPrefix = "shellguard:test:"

type RedisAuditStoreTestSuite struct {
	suite.Suite
	client *redis.Client
	store  *RedisAuditStore
}

func TestRedisAuditStoreSuite(t *testing.T) {
	endpoint := testutil.GetRedisAddress(t)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}

	suite.Run(t, &RedisAuditStoreTestSuite{
		client: client,
		store:  NewRedisAuditStore(client, redisPrefix),
	})
}

func (r *RedisAuditStoreTestSuite) SetupTest() {
	ctx := context.Background()

	// Clean up all keys with this prefix.
	iter := r.client.Scan(ctx, 0, redisPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.NoError(r.client.Del(ctx, iter.Val()).Err())
	}
	r.NoError(iter.Err(), "redis SCAN failed")
}

func (r *RedisAuditStoreTestSuite) TestContract() {
	exerciseAuditStore(r.T(), r.store)
}

func (r *RedisAuditStoreTestSuite) TestGet() {
	ctx := context.Background()
	r.NoError(r.store.Append(ctx, sampleRecord(3, "s1", api.PhaseCompleted)))

	got, err := r.store.Get(ctx, "act-003")
	r.NoError(err)
	r.Equal("echo 3", got.Parameter)

	_, err = r.store.Get(ctx, "missing")
	r.ErrorIs(err, ErrWorkflowNotFound)
}

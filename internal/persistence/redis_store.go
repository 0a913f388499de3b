package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAuditStore is an AuditStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>seq                      => INCR counter ordering appends
//	<prefix>rec:<action id>          => gob-encoded AuditRecord
//	<prefix>idx:all                  => ZSET of action ids scored by seq
//	<prefix>idx:session:<session>    => ZSET of action ids for a session
//	<prefix>idx:status:<status>      => ZSET of action ids for a status
//
// List walks the most selective index newest first and filters the
// remaining criteria on the decoded payload.
type RedisAuditStore struct {
	client *redis.Client
	prefix string
}

var _ AuditStore = (*RedisAuditStore)(nil)

// NewRedisAuditStore creates a RedisAuditStore.
// prefix is optional but recommended (e.g. "shellguard:").
func NewRedisAuditStore(client *redis.Client, prefix string) *RedisAuditStore {
	if prefix == "" {
		prefix = "shellguard:"
	}
	return &RedisAuditStore{client: client, prefix: prefix}
}

func (s *RedisAuditStore) keySeq() string              { return s.prefix + "seq" }
func (s *RedisAuditStore) keyRecord(id string) string  { return s.prefix + "rec:" + id }
func (s *RedisAuditStore) keyAll() string              { return s.prefix + "idx:all" }
func (s *RedisAuditStore) keySession(id string) string { return s.prefix + "idx:session:" + id }
func (s *RedisAuditStore) keyStatus(st string) string  { return s.prefix + "idx:status:" + st }

func (s *RedisAuditStore) Append(ctx context.Context, rec AuditRecord) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	seq, err := s.client.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return fmt.Errorf("redis audit seq: %w", err)
	}

	member := redis.Z{Score: float64(seq), Member: rec.ActionID}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyRecord(rec.ActionID), data, 0)
	pipe.ZAdd(ctx, s.keyAll(), member)
	pipe.ZAdd(ctx, s.keySession(rec.SessionID), member)
	pipe.ZAdd(ctx, s.keyStatus(string(rec.Status)), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis audit append %q: %w", rec.ActionID, err)
	}
	return nil
}

func (s *RedisAuditStore) List(ctx context.Context, f AuditFilter) ([]AuditRecord, error) {
	index := s.keyAll()
	switch {
	case f.SessionID != "":
		index = s.keySession(f.SessionID)
	case f.Status != "":
		index = s.keyStatus(string(f.Status))
	}

	limit := f.limit()
	page := int64(limit)
	var out []AuditRecord

	for start := int64(0); len(out) < limit; start += page {
		ids, err := s.client.ZRevRange(ctx, index, start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis audit list: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.keyRecord(id)
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis audit mget: %w", err)
		}

		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				// Index entry without payload.
				continue
			}
			rec, err := DecodeRecord([]byte(str))
			if err != nil {
				return nil, err
			}
			if f.matches(rec) {
				out = append(out, rec)
				if len(out) == limit {
					break
				}
			}
		}
		if int64(len(ids)) < page {
			break
		}
	}
	return out, nil
}

// Get returns the record of one action.
func (s *RedisAuditStore) Get(ctx context.Context, actionID string) (AuditRecord, error) {
	data, err := s.client.Get(ctx, s.keyRecord(actionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AuditRecord{}, ErrWorkflowNotFound
		}
		return AuditRecord{}, err
	}
	return DecodeRecord(data)
}

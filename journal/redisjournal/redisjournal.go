// Package redisjournal stores deployment journals in Redis, one hash per
// plan with a field per future.
package redisjournal

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	deployer "github.com/branched-services/go-deployer"
)

// DefaultPrefix namespaces journal keys.
const DefaultPrefix = "deployer:journal:"

// Journal is a deployer.Journal backed by Redis hashes. Durability follows
// the server's persistence settings; run Redis with appendfsync always when
// the journal is the only record of in-flight transactions.
type Journal struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ deployer.Journal = (*Journal)(nil)
	_ deployer.Lister  = (*Journal)(nil)
	_ deployer.Wiper   = (*Journal)(nil)
)

// Option configures a Journal.
type Option func(*Journal)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(j *Journal) {
		j.prefix = prefix
	}
}

// New creates a Journal on an existing client.
func New(client redis.UniversalClient, opts ...Option) *Journal {
	j := &Journal{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Connect parses a redis:// URL, verifies the connection and returns a
// Journal. The caller closes the returned client.
func Connect(ctx context.Context, url string, opts ...Option) (*Journal, *redis.Client, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("redisjournal: parse url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redisjournal: connect: %w", err)
	}
	return New(client, opts...), client, nil
}

func (j *Journal) key(planID string) string {
	return j.prefix + planID
}

// Record implements deployer.Journal.
func (j *Journal) Record(ctx context.Context, planID, futureID string, rec deployer.ExecutionRecord) error {
	data, err := deployer.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("redisjournal: encode %s: %w", futureID, err)
	}
	if err := j.client.HSet(ctx, j.key(planID), futureID, data).Err(); err != nil {
		return fmt.Errorf("redisjournal: write %s: %w", futureID, err)
	}
	return nil
}

// Lookup implements deployer.Journal.
func (j *Journal) Lookup(ctx context.Context, planID, futureID string) (*deployer.ExecutionRecord, bool, error) {
	data, err := j.client.HGet(ctx, j.key(planID), futureID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisjournal: read %s: %w", futureID, err)
	}

	rec, err := deployer.UnmarshalRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("redisjournal: decode %s: %w", futureID, err)
	}
	return rec, true, nil
}

// Records implements deployer.Lister.
func (j *Journal) Records(ctx context.Context, planID string) ([]deployer.ExecutionRecord, error) {
	fields, err := j.client.HGetAll(ctx, j.key(planID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisjournal: list %s: %w", planID, err)
	}

	recs := make([]deployer.ExecutionRecord, 0, len(fields))
	for futureID, data := range fields {
		rec, err := deployer.UnmarshalRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("redisjournal: decode %s: %w", futureID, err)
		}
		recs = append(recs, *rec)
	}
	deployer.SortRecords(recs)
	return recs, nil
}

// Wipe implements deployer.Wiper.
func (j *Journal) Wipe(ctx context.Context, planID, futureID string) error {
	if err := j.client.HDel(ctx, j.key(planID), futureID).Err(); err != nil {
		return fmt.Errorf("redisjournal: wipe %s: %w", futureID, err)
	}
	return nil
}

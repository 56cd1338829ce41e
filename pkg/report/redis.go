package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetup/fleetup/pkg/util"
)

// Store persists finished runs so reports can be regenerated later.
type Store interface {
	Save(ctx context.Context, run *Run) error
	Load(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]string, error)
	Close() error
}

// Redis key layout:
//
//	fleetup:runs            sorted set of run IDs scored by start time
//	fleetup:run:<id>        list of JSON device records, in run order
//	fleetup:run:<id>:meta   hash of run metadata
const (
	runsKey   = "fleetup:runs"
	runPrefix = "fleetup:run:"
)

// DefaultRunTTL is how long a saved run is kept.
const DefaultRunTTL = 30 * 24 * time.Hour

// RedisOptions configures the Redis run store.
type RedisOptions struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (o RedisOptions) Enabled() bool {
	return o.Addr != ""
}

// RedisStore keeps runs in Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store; no connection is made until first use.
func NewRedisStore(opts RedisOptions) *RedisStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl: ttl,
	}
}

// Ping tests the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordsKey(id string) string { return runPrefix + id }
func metaKey(id string) string    { return runPrefix + id + ":meta" }

// Save writes run atomically, replacing any earlier run with the same ID.
func (s *RedisStore) Save(ctx context.Context, run *Run) error {
	values := make([]interface{}, 0, len(run.Records))
	for i := range run.Records {
		b, err := json.Marshal(&run.Records[i])
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", run.Records[i].Address, err)
		}
		values = append(values, b)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordsKey(run.ID), metaKey(run.ID))
		if len(values) > 0 {
			pipe.RPush(ctx, recordsKey(run.ID), values...)
			pipe.Expire(ctx, recordsKey(run.ID), s.ttl)
		}
		pipe.HSet(ctx, metaKey(run.ID),
			"id", run.ID,
			"operation", run.Operation,
			"started", run.Started.UTC().Format(time.RFC3339Nano),
			"finished", run.Finished.UTC().Format(time.RFC3339Nano),
			"devices", len(run.Records),
		)
		pipe.Expire(ctx, metaKey(run.ID), s.ttl)
		pipe.ZAdd(ctx, runsKey, &redis.Z{Score: float64(run.Started.Unix()), Member: run.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// Load reads a saved run. A run that expired or was never saved returns
// an error wrapping util.ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, id string) (*Run, error) {
	meta, err := s.client.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	if len(meta) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, util.ErrNotFound)
	}

	run := &Run{ID: id, Operation: meta["operation"], Records: []DeviceRecord{}}
	run.Started, _ = time.Parse(time.RFC3339Nano, meta["started"])
	run.Finished, _ = time.Parse(time.RFC3339Nano, meta["finished"])

	raw, err := s.client.LRange(ctx, recordsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading run %s records: %w", id, err)
	}
	for i, r := range raw {
		var rec DeviceRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("decoding run %s record %d: %w", id, i, err)
		}
		run.Records = append(run.Records, rec)
	}
	return run, nil
}

// List returns up to limit run IDs, newest first. Runs whose data expired
// are pruned from the index.
func (s *RedisStore) List(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.client.ZRevRange(ctx, runsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var live, stale []string
	for _, id := range ids {
		n, err := s.client.Exists(ctx, metaKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		if n == 0 {
			stale = append(stale, id)
			continue
		}
		if len(live) < limit {
			live = append(live, id)
		}
	}
	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		if err := s.client.ZRem(ctx, runsKey, members...).Err(); err != nil {
			util.Logger.Warnf("Pruning expired runs: %v", err)
		}
	}
	return live, nil
}

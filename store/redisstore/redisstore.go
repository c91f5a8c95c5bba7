// Package redisstore is a protomodel.Store backed by Redis. Records are
// CBOR-encoded strings, IDs come from per-model counters and relation links
// are kept in ordered lists.
//
// Key layout, under a configurable prefix:
//
//	<prefix>:<model>:seq                      ID counter
//	<prefix>:<model>:ids                      set of stored IDs
//	<prefix>:<model>:<id>                     CBOR record
//	<prefix>:link:<model>:<field>:<owner>     ordered member IDs
//	<prefix>:linkset:<model>:<field>:<owner>  member IDs for deduplication
package redisstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/protomodel"
)

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration

	// Prefix namespaces every key. Defaults to "protomodel".
	Prefix string

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store implements protomodel.Store on a go-redis client.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// New connects to Redis and returns a store.
func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}

	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}

	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, opts.Prefix, opts.Logger), nil
}

// NewWithClient wraps an existing client. The store takes ownership of it.
func NewWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = "protomodel"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) recordKey(model string, id int64) string {
	return s.key(model, strconv.FormatInt(id, 10))
}

func (s *Store) linkKeys(owner *protomodel.Instance, field *protomodel.Field) (list, set string) {
	ownerID, _ := owner.ID()
	id := strconv.FormatInt(ownerID, 10)
	name := owner.Model().Name()
	return s.key("link", name, field.Name, id), s.key("linkset", name, field.Name, id)
}

// Save inserts or updates the instance.
func (s *Store) Save(ctx context.Context, inst *protomodel.Instance) error {
	rec, err := inst.Record()
	if err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	name := inst.Model().Name()
	id, saved := inst.ID()
	if !saved {
		id, err = s.client.Incr(ctx, s.key(name, "seq")).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate id for %s: %w", name, err)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(name, id), data, 0)
		pipe.SAdd(ctx, s.key(name, "ids"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %s %d: %w", name, id, err)
	}
	if !saved {
		inst.SetID(id)
	}
	return nil
}

// Get loads an instance and the instances its foreign keys point at.
func (s *Store) Get(ctx context.Context, m *protomodel.Model, id int64) (*protomodel.Instance, error) {
	return protomodel.NewLoader(s.fetch).Load(ctx, m, id)
}

func (s *Store) fetch(ctx context.Context, m *protomodel.Model, id int64) (protomodel.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(m.Name(), id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &protomodel.RelationNotFoundError{Model: m.Name(), ID: id}
		}
		return nil, fmt.Errorf("failed to get %s %d: %w", m.Name(), id, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %d: %w", m.Name(), id, err)
	}
	return rec, nil
}

// Delete removes the instance and the link rows it owns.
func (s *Store) Delete(ctx context.Context, inst *protomodel.Instance) error {
	id, saved := inst.ID()
	if !saved {
		return nil
	}
	m := inst.Model()
	keys := []string{s.recordKey(m.Name(), id)}
	for _, f := range m.Fields() {
		if f.Relation() != protomodel.RelationToMany {
			continue
		}
		list, set := s.linkKeys(inst, f)
		keys = append(keys, list, set)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.key(m.Name(), "ids"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", m.Name(), id, err)
	}
	return nil
}

// Relation returns the manager of a to-many relation.
func (s *Store) Relation(inst *protomodel.Instance, field *protomodel.Field) protomodel.RelationManager {
	return protomodel.NewRelationManager(s, s, inst, field)
}

// AddLinks appends ids to the owner's link list, skipping existing links.
func (s *Store) AddLinks(ctx context.Context, owner *protomodel.Instance, field *protomodel.Field, ids []int64) error {
	list, set := s.linkKeys(owner, field)
	for _, id := range ids {
		added, err := s.client.SAdd(ctx, set, id).Result()
		if err != nil {
			return fmt.Errorf("failed to link %d: %w", id, err)
		}
		if added == 0 {
			continue
		}
		if err := s.client.RPush(ctx, list, id).Err(); err != nil {
			return fmt.Errorf("failed to link %d: %w", id, err)
		}
	}
	return nil
}

// LinkedIDs returns the IDs linked from owner in insertion order.
func (s *Store) LinkedIDs(ctx context.Context, owner *protomodel.Instance, field *protomodel.Field) ([]int64, error) {
	list, _ := s.linkKeys(owner, field)
	raw, err := s.client.LRange(ctx, list, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read links of %s: %w", field.Name, err)
	}
	return parseIDs(raw)
}

// ReferencingIDs scans the stored instances of m for column == id.
func (s *Store) ReferencingIDs(ctx context.Context, m *protomodel.Model, column string, id int64) ([]int64, error) {
	raw, err := s.client.SMembers(ctx, s.key(m.Name(), "ids")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", m.Name(), err)
	}
	candidates, err := parseIDs(raw)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, candidate := range candidates {
		rec, err := s.fetch(ctx, m, candidate)
		if errors.Is(err, protomodel.ErrNotFound) {
			s.logger.Warn("stale id in model index", "model", m.Name(), "id", candidate)
			continue
		}
		if err != nil {
			return nil, err
		}
		if ref, ok := asInt64(rec[column]); ok && ref == id {
			out = append(out, candidate)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Ping checks the connection to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func parseIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", r, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

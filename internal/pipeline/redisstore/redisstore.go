// Package redisstore provides a Redis implementation of pipeline.Store.
//
// Each event is one JSON value under <prefix>event:<sha256(source_url)>,
// written with SET NX so the first writer wins. A sorted set
// <prefix>events, scored by detection time, indexes the keys for List.
package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

var tracer = otel.Tracer("github.com/linnemanlabs/leadwatch/internal/pipeline/redisstore")

// DefaultPrefix namespaces every key.
const DefaultPrefix = "leadwatch:"

// connectionTimeout bounds the startup ping.
const connectionTimeout = 5 * time.Second

// ErrEmptyURL is returned when no Redis URL is configured.
var ErrEmptyURL = errors.New("redis url is required")

// Store persists trigger events in Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewClient parses a redis:// URL, connects, and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// New returns a Store using client. An empty prefix selects DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) eventKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return s.prefix + "event:" + hex.EncodeToString(sum[:])
}

func (s *Store) indexKey() string {
	return s.prefix + "events"
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Exists reports whether an event with the source URL is stored.
func (s *Store) Exists(ctx context.Context, sourceURL string) (bool, error) {
	ctx, span := startSpan(ctx, "redisstore.Exists", "EXISTS")
	defer span.End()

	n, err := s.client.Exists(ctx, s.eventKey(sourceURL)).Result()
	if err != nil {
		return false, fail(span, fmt.Errorf("exists: %w", err))
	}
	return n == 1, nil
}

// Insert stores rec unless its source URL is already present, in which
// case pipeline.ErrDuplicate is returned.
func (s *Store) Insert(ctx context.Context, rec *lead.Record) error {
	ctx, span := startSpan(ctx, "redisstore.Insert", "SET")
	defer span.End()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fail(span, fmt.Errorf("marshal record: %w", err))
	}

	key := s.eventKey(rec.SourceURL)
	ok, err := s.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return fail(span, fmt.Errorf("setnx: %w", err))
	}
	if !ok {
		span.SetAttributes(attribute.Bool("leadwatch.duplicate", true))
		return pipeline.ErrDuplicate
	}

	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.DetectedAt.UnixNano()),
		Member: key,
	}).Err()
	if err != nil {
		// unindexed values would block re-insertion without being listed
		_ = s.client.Del(context.WithoutCancel(ctx), key).Err()
		return fail(span, fmt.Errorf("zadd: %w", err))
	}
	return nil
}

// List returns up to limit events, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]lead.Record, error) {
	ctx, span := startSpan(ctx, "redisstore.List", "ZREVRANGE")
	defer span.End()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	keys, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fail(span, fmt.Errorf("zrevrange: %w", err))
	}
	if len(keys) == 0 {
		return []lead.Record{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fail(span, fmt.Errorf("mget: %w", err))
	}

	out := make([]lead.Record, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// expired or deleted out of band
			continue
		}
		var r lead.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fail(span, fmt.Errorf("decode %s: %w", keys[i], err))
		}
		out = append(out, r)
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

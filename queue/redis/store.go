// Package redis stores pending requests in Redis.
//
// Layout under a configurable prefix:
//
//	<prefix>:seq       INCR counter that hands out ids
//	<prefix>:req:<id>  hash holding one request
//	<prefix>:ids       sorted set of live ids, scored by id
//
// Inserts and deletes touch the hash and the sorted set in one MULTI/EXEC.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/headers"
	"github.com/gaborage/alioli/logger"
	"github.com/gaborage/alioli/queue"
)

const (
	backend       = "redis"
	defaultPrefix = "alioli"
	pingTimeout   = 5 * time.Second

	fieldMethod      = "method"
	fieldURL         = "url"
	fieldHasBody     = "has_body"
	fieldBody        = "body_content"
	fieldContentType = "body_content_type"
	fieldHeaders     = "headers"
	fieldValidUntil  = "valid_until"
)

// Store implements queue.Store on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	logger logger.Logger
}

var (
	_ queue.Store  = (*Store)(nil)
	_ queue.Closer = (*Store)(nil)
)

// New wraps an existing client. An empty prefix selects "alioli".
func New(client *redis.Client, prefix string, log logger.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{client: client, prefix: prefix, logger: log}
}

// Open creates a client from cfg and verifies it with PING.
func Open(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (*Store, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	store := New(client, cfg.Prefix, log)
	store.logger.Info().Str("addr", opts.Addr).Str("prefix", store.prefix).Msg("Connected queue store to Redis")
	return store, nil
}

func clientOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

func (s *Store) seqKey() string { return s.prefix + ":seq" }
func (s *Store) idsKey() string { return s.prefix + ":ids" }
func (s *Store) reqKey(id int64) string {
	return s.prefix + ":req:" + strconv.FormatInt(id, 10)
}

func (s *Store) Insert(ctx context.Context, req *queue.PendingRequest) (int64, error) {
	if err := queue.Validate(req); err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}
	encoded, err := headers.Encode(req.Headers)
	if err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}

	fields := map[string]any{
		fieldMethod:     req.Method,
		fieldURL:        req.URL,
		fieldHeaders:    encoded,
		fieldValidUntil: req.ValidUntil,
		fieldHasBody:    "0",
	}
	if req.Body != nil {
		fields[fieldHasBody] = "1"
		fields[fieldBody] = req.Body.Content
		fields[fieldContentType] = req.Body.ContentType
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.reqKey(id), fields)
		pipe.ZAdd(ctx, s.idsKey(), redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		return 0, queue.NewStoreError(queue.OpInsert, backend, err)
	}

	s.logger.Debug().Int64("id", id).Msg("Stored pending request")
	return id, nil
}

func (s *Store) List(ctx context.Context) ([]*queue.PendingRequest, error) {
	members, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, queue.NewStoreError(queue.OpList, backend, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.logger.Warn().Str("member", m).Msg("Ignoring non-numeric queue member")
			continue
		}
		ids = append(ids, id)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.reqKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, queue.NewStoreError(queue.OpList, backend, err)
	}

	out := make([]*queue.PendingRequest, 0, len(ids))
	for i, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			// Deleted between ZRANGE and HGETALL.
			continue
		}
		out = append(out, s.decode(ids[i], values))
	}
	return out, nil
}

func (s *Store) decode(id int64, values map[string]string) *queue.PendingRequest {
	req := &queue.PendingRequest{
		ID:     id,
		Method: values[fieldMethod],
		URL:    values[fieldURL],
	}
	if values[fieldHasBody] == "1" {
		req.Body = &queue.Body{Content: values[fieldBody], ContentType: values[fieldContentType]}
	}

	validUntil, err := strconv.ParseInt(values[fieldValidUntil], 10, 64)
	if err != nil {
		// An unreadable expiry is treated as already expired so the record drains.
		s.logger.Warn().Int64("id", id).Msg("Stored expiry is malformed")
	}
	req.ValidUntil = validUntil

	hs, err := headers.Decode(values[fieldHeaders])
	if err != nil {
		s.logger.Warn().Err(err).Int64("id", id).Msg("Stored headers are malformed, treating as empty")
		hs = []headers.Header{}
	}
	req.Headers = hs
	return req
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.reqKey(id))
		pipe.ZRem(ctx, s.idsKey(), id)
		return nil
	})
	if err != nil {
		return queue.NewStoreError(queue.OpDelete, backend, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.idsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, queue.NewStoreError(queue.OpCount, backend, err)
	}
	return int(n), nil
}

// Close closes the underlying client.
func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}

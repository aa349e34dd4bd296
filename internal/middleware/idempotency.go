package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "serp:idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyTimeout   = 2 * time.Second
)

var (
	errInProgress   = errors.New("request in progress")
	errCorruptEntry = errors.New("corrupt idempotency entry")
)

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// replay writes the stored response back to the client.
func (s storedResponse) replay(c *fiber.Ctx) error {
	for header, value := range s.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	return c.Status(s.Status).SendString(s.Body)
}

func captureResponse(c *fiber.Ctx) storedResponse {
	s := storedResponse{
		Status:  c.Response().StatusCode(),
		Body:    string(c.Response().Body()),
		Headers: map[string]string{},
	}
	c.Response().Header.VisitAll(func(k, v []byte) {
		s.Headers[string(k)] = string(v)
	})
	return s
}

// responseStore keeps one entry per scoped key: the in-progress marker while
// the mutation runs, then the encoded response until ttl expires.
type responseStore struct {
	cache *redis.Client
	ttl   time.Duration
}

// lookup returns the stored response, errInProgress while another request
// holds the key, errCorruptEntry for undecodable entries, or redis.Nil when the
// key is free.
func (s responseStore) lookup(key string) (storedResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()

	raw, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		return storedResponse{}, err
	}
	if raw == inProgressMarker {
		return storedResponse{}, errInProgress
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return storedResponse{}, fmt.Errorf("%w: %v", errCorruptEntry, err)
	}
	return stored, nil
}

// reserve claims key. It reports false when a concurrent request won the race.
func (s responseStore) reserve(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	return s.cache.SetNX(ctx, key, inProgressMarker, s.ttl).Result()
}

func (s responseStore) save(key string, resp storedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	return s.cache.Set(ctx, key, payload, s.ttl).Err()
}

func (s responseStore) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	s.cache.Del(ctx, key)
}

// Idempotency makes privileged mutations safe to retry. The first request
// carrying an Idempotency-Key runs and its response is kept for ttl; later
// requests with the same key replay it. Keys are scoped by operator and path,
// and a request that fails releases its key.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	store := responseStore{cache: cache, ttl: ttl}
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		scoped := idempotencyCacheKey(OperatorFrom(c), c.Path(), key)

		stored, err := store.lookup(scoped)
		switch {
		case err == nil:
			return stored.replay(c)
		case errors.Is(err, errInProgress):
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		case errors.Is(err, errCorruptEntry):
			logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusConflict, "duplicate request")
		case !errors.Is(err, redis.Nil):
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}

		won, err := store.reserve(scoped)
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
		}
		if !won {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		if err := c.Next(); err != nil {
			store.release(scoped)
			return err
		}

		if err := store.save(scoped, captureResponse(c)); err != nil {
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			store.release(scoped)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}
		return nil
	}
}

func idempotencyCacheKey(operator, path, key string) string {
	if operator == "" {
		operator = anonymousOperator
	}
	return idempotencyPrefix + operator + ":" + path + ":" + key
}

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/billpay/internal/apperrors"
	"github.com/nkiryanov/billpay/internal/models"
)

const (
	keyPrefix = "billpay:idempotency:"
	inFlight  = "in-flight"

	DefaultInFlightTTL = 2 * time.Minute
	DefaultResultTTL   = 24 * time.Hour
)

// Record is the stored outcome of a finished request
type Record struct {
	Result models.BillResult `json:"result"`
	Code   string            `json:"code,omitempty"` // apperrors code if the request failed
}

// Store de-duplicates bill payment requests by client key
type Store struct {
	client      redis.Cmdable
	inFlightTTL time.Duration
	resultTTL   time.Duration
}

func NewStore(client redis.Cmdable) *Store {
	return &Store{
		client:      client,
		inFlightTTL: DefaultInFlightTTL,
		resultTTL:   DefaultResultTTL,
	}
}

// Reserve marks key as in flight
// Returns stored record if the request with the key has already finished
// Returns apperrors.ErrDuplicateRequest if it is still in flight
func (s *Store) Reserve(ctx context.Context, key string) (*Record, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, inFlight, s.inFlightTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	value, err := s.client.Get(ctx, keyPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Released right between the calls: the other request is still finishing
		return nil, apperrors.ErrDuplicateRequest
	case err != nil:
		return nil, fmt.Errorf("get idempotency key: %w", err)
	case value == inFlight:
		return nil, apperrors.ErrDuplicateRequest
	}

	var rec Record
	err = json.Unmarshal([]byte(value), &rec)
	if err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}

	return &rec, nil
}

// Complete stores request outcome, replays of the key get it back
func (s *Store) Complete(ctx context.Context, key string, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	err = s.client.Set(ctx, keyPrefix+key, value, s.resultTTL).Err()
	if err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	return nil
}

// Release forgets key so the request may be retried
func (s *Store) Release(ctx context.Context, key string) error {
	err := s.client.Del(ctx, keyPrefix+key).Err()
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

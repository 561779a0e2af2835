package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an untouched workspace survives.
const DefaultTTL = 24 * time.Hour

const maxTxRetries = 8

// ErrFileMissing is returned when the selected file expired or was never stored.
var ErrFileMissing = errors.New("workspace: file missing")

// Mutation is written atomically by Store.Update.
type Mutation struct {
	State State
	// File replaces the stored blob when non-nil.
	File     []byte
	DropFile bool
}

// Store persists workspace state and the selected file in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Store; ttl <= 0 falls back to DefaultTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Load returns the stored state, or an idle state when none exists.
func (s *Store) Load(ctx context.Context, sessionID string) (State, error) {
	return s.get(ctx, s.client, sessionID)
}

// Update reads the current state, applies fn and writes the result in one
// optimistic transaction. Returning an error from fn aborts without writing.
func (s *Store) Update(ctx context.Context, sessionID string, fn func(current State) (Mutation, error)) (State, error) {
	key := stateKey(sessionID)
	var next State
	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		mutation, err := fn(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(mutation.State)
		if err != nil {
			return fmt.Errorf("workspace: encode state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			switch {
			case mutation.File != nil:
				pipe.Set(ctx, fileKey(sessionID), mutation.File, s.ttl)
			case mutation.DropFile:
				pipe.Del(ctx, fileKey(sessionID))
			default:
				pipe.Expire(ctx, fileKey(sessionID), s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		next = mutation.State
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, err
	}
	return State{}, fmt.Errorf("workspace: update %s: %w", key, redis.TxFailedErr)
}

// File returns the selected file's bytes.
func (s *Store) File(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := s.client.Get(ctx, fileKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrFileMissing
		}
		return nil, err
	}
	return data, nil
}

// Clear removes state and file.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, stateKey(sessionID), fileKey(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// TTL exposes the configured workspace lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) get(ctx context.Context, cmd getter, sessionID string) (State, error) {
	payload, err := cmd.Get(ctx, stateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return idleState(), nil
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, fmt.Errorf("workspace: decode state: %w", err)
	}
	if state.Phase == "" {
		state.Phase = PhaseIdle
	}
	return state, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func stateKey(sessionID string) string {
	return "workspace:" + sessionID
}

func fileKey(sessionID string) string {
	return "workspace:" + sessionID + ":file"
}

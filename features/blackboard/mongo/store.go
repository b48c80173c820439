// Package mongo wires blackboard and awaitable persistence to the MongoDB
// client. Persisting the snapshot when a process suspends lets a later
// Resume rehydrate state in a different OS process.
package mongo

import (
	"context"
	"encoding/json"
	"errors"

	clientsmongo "github.com/strandworks/strand/features/blackboard/mongo/clients/mongo"
	"github.com/strandworks/strand/runtime/agent/blackboard"
	"github.com/strandworks/strand/runtime/agent/interrupt"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store persists blackboard snapshots and awaitables by delegating to the
// Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo is a helper that instantiates the underlying client using
// the given options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// SaveSnapshot renders the blackboard and persists it under the process ID.
func (s *Store) SaveSnapshot(ctx context.Context, processID string, board *blackboard.Blackboard) error {
	if board == nil {
		return errors.New("blackboard is required")
	}
	bindings, err := board.Snapshot()
	if err != nil {
		return err
	}
	return s.client.SaveSnapshot(ctx, processID, bindings)
}

// LoadSnapshot returns the persisted bindings for the process. An empty
// result means nothing was saved.
func (s *Store) LoadSnapshot(ctx context.Context, processID string) ([]blackboard.Binding, error) {
	return s.client.LoadSnapshot(ctx, processID)
}

// SaveAwaitable persists a pending awaitable under its owning process.
func (s *Store) SaveAwaitable(ctx context.Context, processID string, awaitable *interrupt.Awaitable) error {
	return s.client.PutAwaitable(ctx, processID, awaitable)
}

// FindAwaitable returns the awaitable and its owning process ID.
func (s *Store) FindAwaitable(ctx context.Context, id string) (*interrupt.Awaitable, string, error) {
	return s.client.GetAwaitable(ctx, id)
}

// ResolveAwaitable records the user response on a pending awaitable.
func (s *Store) ResolveAwaitable(ctx context.Context, id string, response json.RawMessage) error {
	return s.client.ResolveAwaitable(ctx, id, response)
}

// PendingAwaitables lists the awaitables still waiting on user input for the
// process.
func (s *Store) PendingAwaitables(ctx context.Context, processID string) ([]*interrupt.Awaitable, error) {
	return s.client.ListPending(ctx, processID)
}

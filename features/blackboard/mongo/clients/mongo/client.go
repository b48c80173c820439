// Package mongo implements the low-level MongoDB client used by the
// blackboard store. It persists blackboard snapshots and pending awaitables
// so suspended processes survive restarts.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/strandworks/strand/runtime/agent/blackboard"
	"github.com/strandworks/strand/runtime/agent/interrupt"
)

const (
	defaultSnapshotCollection  = "agent_blackboard"
	defaultAwaitableCollection = "agent_awaitables"
	defaultTimeout             = 5 * time.Second
	clientName                 = "blackboard-mongo"
)

// ErrNotFound reports that no document matched the given identifier.
var ErrNotFound = errors.New("not found")

// Client exposes Mongo-backed operations for blackboard snapshots and
// awaitables.
type Client interface {
	health.Pinger

	SaveSnapshot(ctx context.Context, processID string, bindings []blackboard.Binding) error
	LoadSnapshot(ctx context.Context, processID string) ([]blackboard.Binding, error)

	PutAwaitable(ctx context.Context, processID string, awaitable *interrupt.Awaitable) error
	GetAwaitable(ctx context.Context, id string) (*interrupt.Awaitable, string, error)
	ResolveAwaitable(ctx context.Context, id string, response json.RawMessage) error
	ListPending(ctx context.Context, processID string) ([]*interrupt.Awaitable, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client              *mongodriver.Client
	Database            string
	SnapshotCollection  string
	AwaitableCollection string
	Timeout             time.Duration
}

type client struct {
	mongo      *mongodriver.Client
	snapshots  *mongodriver.Collection
	awaitables *mongodriver.Collection
	timeout    time.Duration
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	snapColl := opts.SnapshotCollection
	if snapColl == "" {
		snapColl = defaultSnapshotCollection
	}
	awtColl := opts.AwaitableCollection
	if awtColl == "" {
		awtColl = defaultAwaitableCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	c := &client{
		mongo:      opts.Client,
		snapshots:  db.Collection(snapColl),
		awaitables: db.Collection(awtColl),
		timeout:    timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// SaveSnapshot replaces the stored snapshot for the process. Snapshots are
// whole-document so a load sees a consistent binding set.
func (c *client) SaveSnapshot(ctx context.Context, processID string, bindings []blackboard.Binding) error {
	if processID == "" {
		return errors.New("process id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := snapshotDocument{
		ProcessID: processID,
		Bindings:  toBindingDocuments(bindings),
		UpdatedAt: time.Now().UTC(),
	}
	filter := bson.M{"process_id": processID}
	_, err := c.snapshots.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored binding set for the process, or an empty
// slice when nothing has been saved yet.
func (c *client) LoadSnapshot(ctx context.Context, processID string) ([]blackboard.Binding, error) {
	if processID == "" {
		return nil, errors.New("process id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc snapshotDocument
	if err := c.snapshots.FindOne(ctx, bson.M{"process_id": processID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo load snapshot: %w", err)
	}
	return fromBindingDocuments(doc.Bindings), nil
}

// PutAwaitable stores or refreshes the awaitable under its ID.
func (c *client) PutAwaitable(ctx context.Context, processID string, awaitable *interrupt.Awaitable) error {
	if processID == "" {
		return errors.New("process id is required")
	}
	if awaitable == nil || awaitable.ID == "" {
		return errors.New("awaitable with id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := toAwaitableDocument(processID, awaitable)
	filter := bson.M{"awaitable_id": awaitable.ID}
	_, err := c.awaitables.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo put awaitable: %w", err)
	}
	return nil
}

// GetAwaitable returns the awaitable and the ID of the process that owns it.
func (c *client) GetAwaitable(ctx context.Context, id string) (*interrupt.Awaitable, string, error) {
	if id == "" {
		return nil, "", errors.New("awaitable id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc awaitableDocument
	if err := c.awaitables.FindOne(ctx, bson.M{"awaitable_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("mongo get awaitable: %w", err)
	}
	return fromAwaitableDocument(doc), doc.ProcessID, nil
}

// ResolveAwaitable records a user response on a pending awaitable. Returns
// ErrNotFound when the awaitable does not exist or is no longer pending, so
// double resolution is detectable.
func (c *client) ResolveAwaitable(ctx context.Context, id string, response json.RawMessage) error {
	if id == "" {
		return errors.New("awaitable id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"awaitable_id": id, "state": string(interrupt.StatePending)}
	update := bson.M{
		"$set": bson.M{
			"state":      string(interrupt.StateResolved),
			"response":   string(response),
			"updated_at": time.Now().UTC(),
		},
	}
	res, err := c.awaitables.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongo resolve awaitable: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending returns the pending awaitables for the process in creation
// order.
func (c *client) ListPending(ctx context.Context, processID string) ([]*interrupt.Awaitable, error) {
	if processID == "" {
		return nil, errors.New("process id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"process_id": processID, "state": string(interrupt.StatePending)}
	cursor, err := c.awaitables.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo list pending: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*interrupt.Awaitable
	for cursor.Next(ctx) {
		var doc awaitableDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo decode awaitable: %w", err)
		}
		out = append(out, fromAwaitableDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo list pending: %w", err)
	}
	return out, nil
}

func (c *client) ensureIndexes(ctx context.Context) error {
	_, err := c.snapshots.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "process_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo snapshot indexes: %w", err)
	}
	_, err = c.awaitables.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "awaitable_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "process_id", Value: 1}, {Key: "state", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("mongo awaitable indexes: %w", err)
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type snapshotDocument struct {
	ProcessID string            `bson:"process_id"`
	Bindings  []bindingDocument `bson:"bindings"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

type bindingDocument struct {
	Type    string    `bson:"type"`
	Labels  []string  `bson:"labels,omitempty"`
	Value   string    `bson:"value"`
	BoundAt time.Time `bson:"bound_at"`
}

type awaitableDocument struct {
	ID        string    `bson:"awaitable_id"`
	ProcessID string    `bson:"process_id"`
	Kind      string    `bson:"kind"`
	Prompt    string    `bson:"prompt"`
	Payload   string    `bson:"payload,omitempty"`
	State     string    `bson:"state"`
	Response  string    `bson:"response,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toBindingDocuments(bindings []blackboard.Binding) []bindingDocument {
	result := make([]bindingDocument, len(bindings))
	for i, b := range bindings {
		result[i] = bindingDocument{
			Type:    b.TypeName,
			Labels:  b.Labels,
			Value:   string(b.Value),
			BoundAt: b.BoundAt.UTC(),
		}
	}
	return result
}

func fromBindingDocuments(docs []bindingDocument) []blackboard.Binding {
	if len(docs) == 0 {
		return nil
	}
	result := make([]blackboard.Binding, len(docs))
	for i, d := range docs {
		result[i] = blackboard.Binding{
			TypeName: d.Type,
			Labels:   d.Labels,
			Value:    json.RawMessage(d.Value),
			BoundAt:  d.BoundAt,
		}
	}
	return result
}

func toAwaitableDocument(processID string, a *interrupt.Awaitable) awaitableDocument {
	return awaitableDocument{
		ID:        a.ID,
		ProcessID: processID,
		Kind:      a.Kind,
		Prompt:    a.Prompt,
		Payload:   string(a.Payload),
		State:     string(a.State),
		Response:  string(a.Response),
		CreatedAt: a.CreatedAt.UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func fromAwaitableDocument(doc awaitableDocument) *interrupt.Awaitable {
	a := &interrupt.Awaitable{
		ID:        doc.ID,
		Kind:      doc.Kind,
		Prompt:    doc.Prompt,
		CreatedAt: doc.CreatedAt,
		State:     interrupt.AwaitableState(doc.State),
	}
	if doc.Payload != "" {
		a.Payload = json.RawMessage(doc.Payload)
	}
	if doc.Response != "" {
		a.Response = json.RawMessage(doc.Response)
	}
	return a
}

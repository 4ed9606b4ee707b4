package cubeo

import (
	"context"
	"time"
)

// Document is a loosely typed record of the remote corpus.
type Document struct {
	ID     string
	Fields map[string]any
}

// ChangeType is the kind of change carried by a subscription.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is one document change.
type Change struct {
	Type     ChangeType
	Document Document
}

// ChangeBatch is delivered by a subscription. A batch with a non-nil Err
// reports a transport failure; the subscription stays open.
type ChangeBatch struct {
	Collection Collection
	Changes    []Change
	Err        error
}

// RemoteCorpus is the source of truth the sync engine pulls from.
type RemoteCorpus interface {
	// Query returns active documents of a collection created after since.
	Query(ctx context.Context, c Collection, since time.Time) ([]Document, error)

	// Subscribe streams changes to active documents created after since.
	// The channel is closed once ctx is cancelled.
	Subscribe(ctx context.Context, c Collection, since time.Time) (<-chan ChangeBatch, error)
}

// CorpusPublisher is implemented by remote corpora that accept writes.
type CorpusPublisher interface {
	Publish(ctx context.Context, c Collection, doc Document) error
}

// RemoteResult is the response of the remote translation model.
type RemoteResult struct {
	Success     bool
	Original    string
	Translation string
	Error       string
}

// Health is the liveness report of the remote translation model.
type Health struct {
	Status      string
	ModelLoaded bool
}

// TranslationClient calls the remote sequence-to-sequence model.
// Implementations make a single attempt per call and honour ctx.
type TranslationClient interface {
	Translate(ctx context.Context, text string) (*RemoteResult, error)
	Health(ctx context.Context) (*Health, error)
}

package remote

import (
	"context"
	"maps"
	"sync"
	"time"

	"cubeo/internal/cubeo"
)

// MemoryCorpus is an in-memory remote corpus, useful for testing.
// Writes are pushed to subscribers as they happen.
// This implementation is safe for concurrent use.
type MemoryCorpus struct {
	mu          sync.RWMutex
	docs        map[cubeo.Collection]map[string]cubeo.Document
	subscribers map[cubeo.Collection][]*memorySubscriber
	queryErr    error
}

type memorySubscriber struct {
	mu     sync.Mutex
	ch     chan cubeo.ChangeBatch
	done   <-chan struct{}
	closed bool
}

// NewMemoryCorpus creates an empty in-memory corpus.
func NewMemoryCorpus() *MemoryCorpus {
	return &MemoryCorpus{
		docs:        make(map[cubeo.Collection]map[string]cubeo.Document),
		subscribers: make(map[cubeo.Collection][]*memorySubscriber),
	}
}

// Put stores a document and notifies subscribers.
func (m *MemoryCorpus) Put(c cubeo.Collection, doc cubeo.Document) {
	doc = cubeo.Document{ID: doc.ID, Fields: maps.Clone(doc.Fields)}

	m.mu.Lock()
	coll, ok := m.docs[c]
	if !ok {
		coll = make(map[string]cubeo.Document)
		m.docs[c] = coll
	}
	kind := cubeo.ChangeAdded
	if _, exists := coll[doc.ID]; exists {
		kind = cubeo.ChangeModified
	}
	coll[doc.ID] = doc
	subs := append([]*memorySubscriber(nil), m.subscribers[c]...)
	m.mu.Unlock()

	m.notify(subs, cubeo.ChangeBatch{Collection: c, Changes: []cubeo.Change{{Type: kind, Document: doc}}})
}

// Delete removes a document and notifies subscribers.
func (m *MemoryCorpus) Delete(c cubeo.Collection, id string) {
	m.mu.Lock()
	_, existed := m.docs[c][id]
	delete(m.docs[c], id)
	subs := append([]*memorySubscriber(nil), m.subscribers[c]...)
	m.mu.Unlock()

	if existed {
		m.notify(subs, cubeo.ChangeBatch{Collection: c, Changes: []cubeo.Change{{Type: cubeo.ChangeRemoved, Document: cubeo.Document{ID: id}}}})
	}
}

// Fail makes subsequent queries return err. A nil err clears it.
func (m *MemoryCorpus) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// Len returns the number of documents stored in a collection.
func (m *MemoryCorpus) Len(c cubeo.Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[c])
}

// Subscribers returns the number of open subscriptions to a collection.
func (m *MemoryCorpus) Subscribers(c cubeo.Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[c])
}

// Publish stores a document.
func (m *MemoryCorpus) Publish(ctx context.Context, c cubeo.Collection, doc cubeo.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Put(c, doc)
	return nil
}

// Query returns active documents of a collection created after since.
func (m *MemoryCorpus) Query(ctx context.Context, c cubeo.Collection, since time.Time) ([]cubeo.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.queryErr != nil {
		return nil, m.queryErr
	}
	docs := make([]cubeo.Document, 0, len(m.docs[c]))
	for _, d := range m.docs[c] {
		docs = append(docs, d)
	}
	return selectSince(docs, since), nil
}

// Subscribe delivers the documents created after since as one batch, then
// every later write.
func (m *MemoryCorpus) Subscribe(ctx context.Context, c cubeo.Collection, since time.Time) (<-chan cubeo.ChangeBatch, error) {
	initial, err := m.Query(ctx, c, since)
	if err != nil {
		return nil, err
	}

	sub := &memorySubscriber{ch: make(chan cubeo.ChangeBatch, 16), done: ctx.Done()}
	m.mu.Lock()
	m.subscribers[c] = append(m.subscribers[c], sub)
	m.mu.Unlock()

	if len(initial) > 0 {
		changes := make([]cubeo.Change, len(initial))
		for i, d := range initial {
			changes[i] = cubeo.Change{Type: cubeo.ChangeAdded, Document: d}
		}
		sub.send(cubeo.ChangeBatch{Collection: c, Changes: changes})
	}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		subs := m.subscribers[c]
		for i, s := range subs {
			if s == sub {
				m.subscribers[c] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()

		sub.mu.Lock()
		sub.closed = true
		close(sub.ch)
		sub.mu.Unlock()
	}()
	return sub.ch, nil
}

func (m *MemoryCorpus) notify(subs []*memorySubscriber, b cubeo.ChangeBatch) {
	for _, s := range subs {
		s.send(b)
	}
}

// send blocks until the batch is received or the subscription ends.
func (s *memorySubscriber) send(b cubeo.ChangeBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- b:
	case <-s.done:
	}
}

var _ Corpus = (*MemoryCorpus)(nil)

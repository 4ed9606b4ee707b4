// Package remote provides the remote corpus backends the sync engine pulls
// from: an in-memory corpus for tests, a directory of JSON documents and an
// S3 bucket of JSON documents.
//
// Every backend stores one JSON object per document, keyed by collection
// and document ID. The object holds the document fields; the ID is the
// object name without its ".json" suffix.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cubeo/internal/cubeo"
)

// Corpus is a remote corpus that also accepts writes.
type Corpus interface {
	cubeo.RemoteCorpus
	cubeo.CorpusPublisher
}

// DefaultPollInterval is used by polling backends when none is configured.
const DefaultPollInterval = 30 * time.Second

const docSuffix = ".json"

func objectName(id string) string { return id + docSuffix }

func idFromName(name string) (string, bool) {
	if !strings.HasSuffix(name, docSuffix) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return strings.TrimSuffix(name, docSuffix), true
}

func encodeDocument(doc cubeo.Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc.Fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}
	return data, nil
}

// decodeDocument keeps numbers as json.Number so epoch milliseconds survive
// exactly.
func decodeDocument(id string, data []byte) (cubeo.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	fields := map[string]any{}
	if err := dec.Decode(&fields); err != nil {
		return cubeo.Document{}, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return cubeo.Document{ID: id, Fields: fields}, nil
}

// selectSince keeps active documents created after since, oldest first.
// Documents without a creation time are only returned for a zero since.
func selectSince(docs []cubeo.Document, since time.Time) []cubeo.Document {
	type dated struct {
		doc cubeo.Document
		at  time.Time
	}
	var keep []dated
	for _, d := range docs {
		if !cubeo.DocumentActive(d) {
			continue
		}
		at, ok := cubeo.DocumentCreatedAt(d)
		if !ok && !since.IsZero() {
			continue
		}
		if ok && !at.After(since) {
			continue
		}
		keep = append(keep, dated{d, at})
	}
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].at.Before(keep[j].at) })

	out := make([]cubeo.Document, len(keep))
	for i, k := range keep {
		out[i] = k.doc
	}
	return out
}

// objectInfo is a listed document object.
type objectInfo struct {
	id       string
	modified time.Time
}

// objectSource lists and fetches the document objects of a collection.
type objectSource interface {
	list(ctx context.Context, c cubeo.Collection) ([]objectInfo, error)
	fetch(ctx context.Context, c cubeo.Collection, id string) (cubeo.Document, error)
}

func queryObjects(ctx context.Context, src objectSource, c cubeo.Collection, since time.Time) ([]cubeo.Document, error) {
	objs, err := src.list(ctx, c)
	if err != nil {
		return nil, err
	}
	docs := make([]cubeo.Document, 0, len(objs))
	for _, o := range objs {
		doc, err := src.fetch(ctx, c, o.id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return selectSince(docs, since), nil
}

// pollChanges emits the objects modified after since, then polls the
// source every interval and emits additions, modifications and removals.
// The channel is closed when ctx is cancelled.
func pollChanges(ctx context.Context, src objectSource, c cubeo.Collection, since time.Time, interval time.Duration) <-chan cubeo.ChangeBatch {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ch := make(chan cubeo.ChangeBatch)

	go func() {
		defer close(ch)
		seen := map[string]time.Time{}
		first := true

		send := func(b cubeo.ChangeBatch) bool {
			select {
			case ch <- b:
				return true
			case <-ctx.Done():
				return false
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			changes, err := diffObjects(ctx, src, c, seen, since, first)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				if !send(cubeo.ChangeBatch{Collection: c, Err: err}) {
					return
				}
			case len(changes) > 0:
				if !send(cubeo.ChangeBatch{Collection: c, Changes: changes}) {
					return
				}
				first = false
			default:
				first = false
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

// diffObjects compares a listing against seen and updates it. On the first
// pass only objects modified after since are reported.
func diffObjects(ctx context.Context, src objectSource, c cubeo.Collection, seen map[string]time.Time, since time.Time, first bool) ([]cubeo.Change, error) {
	objs, err := src.list(ctx, c)
	if err != nil {
		return nil, err
	}

	var changes []cubeo.Change
	present := make(map[string]bool, len(objs))
	for _, o := range objs {
		present[o.id] = true
		prev, known := seen[o.id]
		if known && !o.modified.After(prev) {
			continue
		}
		if first && !o.modified.After(since) {
			seen[o.id] = o.modified
			continue
		}

		doc, err := src.fetch(ctx, c, o.id)
		if err != nil {
			return nil, err
		}
		kind := cubeo.ChangeAdded
		if known {
			kind = cubeo.ChangeModified
		}
		changes = append(changes, cubeo.Change{Type: kind, Document: doc})
		seen[o.id] = o.modified
	}

	for id := range seen {
		if !present[id] {
			delete(seen, id)
			changes = append(changes, cubeo.Change{Type: cubeo.ChangeRemoved, Document: cubeo.Document{ID: id}})
		}
	}
	return changes, nil
}

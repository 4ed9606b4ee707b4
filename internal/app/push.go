package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"cubeo/internal/cubeo"
)

// PushCorpus publishes documents to the remote corpus. r holds a JSON
// object keyed by collection name, each holding an array of documents
// whose "id" field names the document:
//
//	{"palabras": [{"id": "w1", "palabra_español": "casa", "palabra_pamie": "wi"}]}
//
// Every document is decoded and re-encoded before publishing, so defaults
// such as the creation time are filled in. A document that does not
// decode aborts the push before anything is published.
func (a *App) PushCorpus(ctx context.Context, r io.Reader) (map[cubeo.Collection]int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string][]map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, a.op.Record(fmt.Errorf("decoding corpus file: %w", err))
	}

	now := a.clock.Now()
	pending := map[cubeo.Collection][]cubeo.Document{}
	for name, docs := range raw {
		c, err := parseCollection(name)
		if err != nil {
			return nil, a.op.Record(err)
		}
		for i, fields := range docs {
			doc, err := canonicalDocument(c, fields, now)
			if err != nil {
				return nil, a.op.Record(fmt.Errorf("%s[%d]: %w", c, i, err))
			}
			pending[c] = append(pending[c], doc)
		}
	}

	counts := map[cubeo.Collection]int{}
	for _, c := range cubeo.Collections {
		for _, doc := range pending[c] {
			if err := a.corpus.Publish(ctx, c, doc); err != nil {
				return counts, a.op.Record(fmt.Errorf("publishing %s/%s: %w", c, doc.ID, err))
			}
			counts[c]++
		}
	}
	a.logger.Info("corpus pushed", "words", counts[cubeo.CollectionLexicon], "sentences", counts[cubeo.CollectionSentences])
	return counts, nil
}

func parseCollection(name string) (cubeo.Collection, error) {
	for _, c := range cubeo.Collections {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown collection %q", cubeo.ErrValidation, name)
}

func canonicalDocument(c cubeo.Collection, fields map[string]any, now time.Time) (cubeo.Document, error) {
	id, _ := fields["id"].(string)
	delete(fields, "id")
	doc := cubeo.Document{ID: id, Fields: fields}

	switch c {
	case cubeo.CollectionLexicon:
		e, _, err := cubeo.DecodeLexicon(doc, now)
		if err != nil {
			return cubeo.Document{}, err
		}
		return cubeo.EncodeLexicon(e), nil
	default:
		e, _, err := cubeo.DecodeSentence(doc, now)
		if err != nil {
			return cubeo.Document{}, err
		}
		return cubeo.EncodeSentence(e), nil
	}
}

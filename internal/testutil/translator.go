package testutil

import (
	"context"
	"sync"
	"time"

	"cubeo/internal/cubeo"
)

// FakeTranslationClient answers from a fixed table. Unknown texts fail
// with Err when set, otherwise they get an unsuccessful model response.
type FakeTranslationClient struct {
	mu           sync.Mutex
	translations map[string]string
	calls        []string

	// Err, when set, is returned by every call.
	Err error
	// Delay holds each call until it elapses or the context is done.
	Delay time.Duration
	// HealthStatus is reported by Health.
	HealthStatus string
}

var _ cubeo.TranslationClient = (*FakeTranslationClient)(nil)

// NewFakeTranslationClient creates a client that translates the keys of
// translations to their values.
func NewFakeTranslationClient(translations map[string]string) *FakeTranslationClient {
	if translations == nil {
		translations = map[string]string{}
	}
	return &FakeTranslationClient{translations: translations, HealthStatus: "ok"}
}

func (f *FakeTranslationClient) Translate(ctx context.Context, text string) (*cubeo.RemoteResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	out, ok := f.translations[text]
	err, delay := f.Err, f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return &cubeo.RemoteResult{Success: false, Original: text, Error: "sin traducción"}, nil
	}
	return &cubeo.RemoteResult{Success: true, Original: text, Translation: out}, nil
}

func (f *FakeTranslationClient) Health(ctx context.Context) (*cubeo.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return &cubeo.Health{Status: f.HealthStatus, ModelLoaded: true}, nil
}

// Calls returns the texts sent to Translate, in order.
func (f *FakeTranslationClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

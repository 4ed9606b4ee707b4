package review_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeo/internal/config"
	"cubeo/internal/cubeo"
	"cubeo/internal/review"
)

var submitted = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestKeys(t *testing.T) *review.Keys {
	t.Helper()
	dir := t.TempDir()
	return review.NewKeys(config.ReviewConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "reviewer.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "reviewer.key"),
	})
}

func pending() []*cubeo.UserCorrection {
	return []*cubeo.UserCorrection{
		{
			ID:                 "c1",
			OriginalText:       "casa",
			AITranslation:      "wi",
			Correction:         "wií",
			Direction:          cubeo.SpanishToPamiwa,
			OriginalMethod:     cubeo.MethodExactMatch,
			OriginalConfidence: 1,
			Status:             cubeo.StatusPending,
			Timestamp:          submitted,
		},
		{
			ID:                 "c2",
			OriginalText:       "buenos días",
			AITranslation:      "ñami",
			Correction:         "ñami jiñe",
			Direction:          cubeo.SpanishToPamiwa,
			OriginalMethod:     cubeo.MethodHybridAI,
			OriginalConfidence: 0.85,
			Status:             cubeo.StatusPending,
			ReportCount:        1,
			Timestamp:          submitted.Add(time.Minute),
		},
	}
}

func TestKeys_Setup(t *testing.T) {
	t.Parallel()

	k := newTestKeys(t)
	assert.False(t, k.IsConfigured())

	require.NoError(t, k.Setup("test-passphrase"))
	assert.True(t, k.IsConfigured())

	assert.Error(t, newTestKeys(t).Setup(""))
}

func TestKeys_SealOpen(t *testing.T) {
	t.Parallel()

	k := newTestKeys(t)
	require.NoError(t, k.Setup("test-passphrase"))

	bundle := review.NewBundle(pending(), submitted.Add(time.Hour))

	var sealed bytes.Buffer
	require.NoError(t, k.Seal(&sealed, bundle))
	assert.NotContains(t, sealed.String(), "buenos días")

	r, err := k.Unlock("test-passphrase")
	require.NoError(t, err)

	got, err := r.Open(bytes.NewReader(sealed.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, bundle, got)
	require.Len(t, got.Corrections, 2)
	assert.Equal(t, cubeo.MethodHybridAI, got.Corrections[1].Method)
}

func TestKeys_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()

	k := newTestKeys(t)
	require.NoError(t, k.Setup("correct-passphrase"))

	_, err := k.Unlock("wrong-passphrase")
	assert.Error(t, err)
}

func TestKeys_BeforeSetup(t *testing.T) {
	t.Parallel()

	k := newTestKeys(t)

	var buf bytes.Buffer
	assert.ErrorIs(t, k.Seal(&buf, review.NewBundle(nil, submitted)), review.ErrNotConfigured)

	_, err := k.Unlock("passphrase")
	assert.ErrorIs(t, err, review.ErrNotConfigured)
}

func TestReviewer_OpenForeignBundle(t *testing.T) {
	t.Parallel()

	alice, bob := newTestKeys(t), newTestKeys(t)
	require.NoError(t, alice.Setup("alice"))
	require.NoError(t, bob.Setup("bob"))

	var sealed bytes.Buffer
	require.NoError(t, alice.Seal(&sealed, review.NewBundle(pending(), submitted)))

	r, err := bob.Unlock("bob")
	require.NoError(t, err)
	_, err = r.Open(&sealed)
	assert.Error(t, err)
}

func TestBundle_Template(t *testing.T) {
	t.Parallel()

	ds := review.NewBundle(pending(), submitted).Template()

	assert.Equal(t, []cubeo.Decision{{CorrectionID: "c1"}, {CorrectionID: "c2"}}, ds)
}

func TestDecisions_WriteRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "decisions.json")
	in := []cubeo.Decision{
		{CorrectionID: "c1", Status: cubeo.StatusApproved},
		{CorrectionID: "c2", Status: cubeo.StatusEdited, EditedText: "ñami jiñe", Comment: "orthography"},
		{CorrectionID: "c3"},
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, review.WriteDecisions(f, in))
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := review.ReadDecisions(f)
	require.NoError(t, err)
	assert.Equal(t, in[:2], got)
}

func TestReadDecisions_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "not json", input: `approve all`, wantErr: "decoding decisions"},
		{name: "pending status", input: `[{"correction_id":"c1","status":"PENDING"}]`, wantErr: "invalid status"},
		{name: "unknown status", input: `[{"correction_id":"c1","status":"MAYBE"}]`, wantErr: "invalid status"},
		{name: "missing id", input: `[{"status":"APPROVED"}]`, wantErr: "missing correction_id"},
		{
			name:    "duplicate",
			input:   `[{"correction_id":"c1","status":"APPROVED"},{"correction_id":"c1","status":"REJECTED"}]`,
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := review.ReadDecisions(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

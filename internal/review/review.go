// Package review moves pending corrections to an offline expert and their
// decisions back.
//
// Corrections are sealed with filippo.io/age to the reviewer's X25519 public
// key. The reviewer's private key is stored encrypted with their passphrase
// using age's scrypt-based passphrase encryption, so a bundle can only be
// opened by someone holding both the key file and the passphrase.
package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"cubeo/internal/config"
	"cubeo/internal/cubeo"
)

// ErrNotConfigured is returned when the reviewer key pair is missing.
var ErrNotConfigured = errors.New("reviewer keys not configured")

// Keys manages the reviewer key pair on disk.
type Keys struct {
	publicKeyPath  string
	privateKeyPath string
}

// NewKeys creates Keys from configuration.
func NewKeys(cfg config.ReviewConfig) *Keys {
	return &Keys{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new X25519 key pair, stores the public key in plaintext
// and the private key encrypted with passphrase.
func (k *Keys) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(k.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := os.WriteFile(k.privateKeyPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured returns true if both key files exist.
func (k *Keys) IsConfigured() bool {
	if _, err := os.Stat(k.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(k.privateKeyPath); err != nil {
		return false
	}
	return true
}

// Seal writes b to w encrypted to the reviewer's public key.
func (k *Keys) Seal(w io.Writer, b *Bundle) error {
	recipient, err := k.loadRecipient()
	if err != nil {
		return err
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	enc := json.NewEncoder(encWriter)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing bundle: %w", err)
	}
	return nil
}

// Unlock decrypts the private key with passphrase.
func (k *Keys) Unlock(passphrase string) (*Reviewer, error) {
	privData, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(decReader)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}

	return &Reviewer{identity: identities[0]}, nil
}

func (k *Keys) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(k.publicKeyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

// Reviewer holds an unlocked reviewer identity.
type Reviewer struct {
	identity age.Identity
}

// Open decrypts and decodes a bundle produced by Keys.Seal.
func (r *Reviewer) Open(rd io.Reader) (*Bundle, error) {
	decReader, err := age.Decrypt(rd, r.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting bundle: %w", err)
	}

	var b Bundle
	if err := json.NewDecoder(decReader).Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	return &b, nil
}

// Bundle is the set of corrections handed to a reviewer.
type Bundle struct {
	CreatedAt   time.Time `json:"created_at"`
	Corrections []Item    `json:"corrections"`
}

// Item is one correction as the reviewer sees it.
type Item struct {
	ID            string          `json:"id"`
	Direction     cubeo.Direction `json:"direction"`
	OriginalText  string          `json:"original_text"`
	AITranslation string          `json:"ai_translation"`
	Correction    string          `json:"correction"`
	Method        cubeo.Method    `json:"method"`
	Confidence    float64         `json:"confidence"`
	ReportCount   int             `json:"report_count"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// NewBundle builds a bundle from corrections.
func NewBundle(cs []*cubeo.UserCorrection, now time.Time) *Bundle {
	b := &Bundle{CreatedAt: now.UTC(), Corrections: make([]Item, 0, len(cs))}
	for _, c := range cs {
		b.Corrections = append(b.Corrections, Item{
			ID:            c.ID,
			Direction:     c.Direction,
			OriginalText:  c.OriginalText,
			AITranslation: c.AITranslation,
			Correction:    c.Correction,
			Method:        c.OriginalMethod,
			Confidence:    c.OriginalConfidence,
			ReportCount:   c.ReportCount,
			SubmittedAt:   c.Timestamp.UTC(),
		})
	}
	return b
}

// Template returns one undecided decision per bundled correction, ready
// for the reviewer to fill in.
func (b *Bundle) Template() []cubeo.Decision {
	ds := make([]cubeo.Decision, 0, len(b.Corrections))
	for _, it := range b.Corrections {
		ds = append(ds, cubeo.Decision{CorrectionID: it.ID})
	}
	return ds
}

// WriteDecisions writes decisions as indented JSON.
func WriteDecisions(w io.Writer, ds []cubeo.Decision) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("encoding decisions: %w", err)
	}
	return nil
}

// ReadDecisions reads a decisions file. Entries left without a status are
// dropped; any other status must be one a reviewer can set.
func ReadDecisions(r io.Reader) ([]cubeo.Decision, error) {
	var raw []cubeo.Decision
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding decisions: %w", err)
	}

	out := make([]cubeo.Decision, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, d := range raw {
		if d.Status == "" {
			continue
		}
		if d.CorrectionID == "" {
			return nil, fmt.Errorf("decision %d: missing correction_id", i)
		}
		switch d.Status {
		case cubeo.StatusApproved, cubeo.StatusRejected, cubeo.StatusEdited:
		default:
			return nil, fmt.Errorf("decision %d: invalid status %q", i, d.Status)
		}
		if seen[d.CorrectionID] {
			return nil, fmt.Errorf("decision %d: duplicate correction_id %s", i, d.CorrectionID)
		}
		seen[d.CorrectionID] = true
		out = append(out, d)
	}
	return out, nil
}

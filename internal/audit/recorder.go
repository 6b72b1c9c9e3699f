// Package audit keeps the raw bytes of provider reports so that every derived
// record can be traced back to the document it came from.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"metalwatch/internal/model"
)

var (
	// ErrDigestMismatch is returned by Verify when stored bytes no longer hash
	// to the recorded digest.
	ErrDigestMismatch = errors.New("audit digest mismatch")
	// ErrBlobExists is returned by a backend asked to replace a key with
	// different bytes.
	ErrBlobExists = errors.New("audit blob already exists")
)

// Backend is a write-once blob store addressed by slash separated keys. Put on
// an existing key succeeds only when the bytes are identical.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Receipt describes a stored blob. Digest is empty when the write failed.
type Receipt struct {
	Digest  string
	Key     string
	Size    int64
	Backend string
}

// Stored reports whether the blob reached the backend.
func (r Receipt) Stored() bool { return r.Digest != "" }

// Blob converts the receipt into the persisted provenance row.
func (r Receipt) Blob(source string, storedAt time.Time) model.AuditBlob {
	return model.AuditBlob{
		Digest:    r.Digest,
		Source:    source,
		Key:       r.Key,
		SizeBytes: r.Size,
		Backend:   r.Backend,
		StoredAt:  storedAt,
	}
}

// Recorder writes report bytes under {source}/{date}/{digest12}-{filename}.
type Recorder struct {
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRecorder constructs a recorder over backend.
func NewRecorder(backend Backend, logger zerolog.Logger) *Recorder {
	return &Recorder{
		backend: backend,
		logger:  logger.With().Str("component", "audit").Str("backend", backend.Name()).Logger(),
		now:     time.Now,
	}
}

// Store writes raw and returns its SHA-256 digest. A failed write is logged and
// yields a receipt with an empty digest; it never fails the caller.
func (r *Recorder) Store(ctx context.Context, source string, raw []byte, filename string) Receipt {
	digest := Digest(raw)
	key := Key(source, r.now(), digest, filename)
	receipt := Receipt{Key: key, Size: int64(len(raw)), Backend: r.backend.Name()}

	if err := r.backend.Put(ctx, key, raw); err != nil {
		r.logger.Warn().Err(err).Str("source", source).Str("key", key).Msg("audit write failed")
		return receipt
	}
	receipt.Digest = digest
	r.logger.Debug().Str("source", source).Str("key", key).Str("digest", receipt.Digest).Int64("bytes", receipt.Size).Msg("audit blob stored")
	return receipt
}

// Verify re-reads key and compares its hash with digest.
func (r *Recorder) Verify(ctx context.Context, key, digest string) error {
	data, err := r.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if got := Digest(data); !strings.EqualFold(got, digest) {
		return fmt.Errorf("%w: %s has %s, recorded %s", ErrDigestMismatch, key, got, digest)
	}
	return nil
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// digestPrefixLen is how much of the digest is folded into a key.
const digestPrefixLen = 12

// Key builds the content address {source}/{YYYY-MM-DD}/{digest12}-{filename}.
// Two documents stored on the same day under the same file name land on
// different keys. Path separators inside source and filename are flattened.
func Key(source string, at time.Time, digest, filename string) string {
	name := cleanSegment(filename, "payload.bin")
	if len(digest) > digestPrefixLen {
		digest = digest[:digestPrefixLen]
	}
	if digest = cleanSegment(digest, ""); digest != "" {
		name = digest + "-" + name
	}
	return path.Join(cleanSegment(source, "unknown"), at.UTC().Format("2006-01-02"), name)
}

func cleanSegment(s, fallback string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}

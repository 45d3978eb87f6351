// Package cache stores extraction results keyed by a digest of the trace
// content, so an unchanged trace is never correlated twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/commtrace/internal/model"
	"github.com/logflow/commtrace/pkg/correlate"
)

// schemaVersion is mixed into every digest; bump it when Entry or the
// extraction semantics change.
const schemaVersion = "commtrace/v1"

// ErrNotFound is returned by Get when no entry exists for a digest.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one cached extraction.
type Entry struct {
	Digest         string                `json:"digest"`
	RunID          string                `json:"run_id"`
	Trace          string                `json:"trace"`
	CreatedAt      time.Time             `json:"created_at"`
	Communications []model.Communication `json:"communications"`
	Stats          correlate.Stats       `json:"stats"`

	// Malformed is the serialized roaring bitmap of malformed lines.
	Malformed []byte `json:"malformed,omitempty"`
}

// NewEntry builds an entry from a finished extraction.
func NewEntry(digest, runID, trace string, res *correlate.Result) (*Entry, error) {
	e := &Entry{
		Digest:         digest,
		RunID:          runID,
		Trace:          trace,
		CreatedAt:      time.Now().UTC(),
		Communications: res.Communications,
		Stats:          res.Stats,
	}
	if bm := res.Stats.MalformedLines; bm != nil && !bm.IsEmpty() {
		data, err := bm.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("cache: encode malformed lines: %w", err)
		}
		e.Malformed = data
	}
	return e, nil
}

// Result restores the extraction result held by the entry.
func (e *Entry) Result() (*correlate.Result, error) {
	st := e.Stats
	st.MalformedLines = roaring.New()
	if len(e.Malformed) > 0 {
		if err := st.MalformedLines.UnmarshalBinary(e.Malformed); err != nil {
			return nil, fmt.Errorf("cache: decode malformed lines: %w", err)
		}
	}
	return &correlate.Result{Communications: e.Communications, Stats: st}, nil
}

// Backend persists entries.
type Backend interface {
	// Get returns the entry for digest, or ErrNotFound.
	Get(ctx context.Context, digest string) (*Entry, error)

	// Put stores an entry under its digest.
	Put(ctx context.Context, e *Entry) error

	// Name returns the backend name for logging.
	Name() string

	// Close releases backend resources.
	Close() error
}

// Digest hashes the content read from r.
func Digest(r io.Reader) (string, error) {
	h := sha256.New()
	io.WriteString(h, schemaVersion+"\n")
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestObject derives a digest for a remote object from its identity and
// ETag, avoiding a full download just to compute the key.
func DigestObject(location, etag string) string {
	h := sha256.New()
	io.WriteString(h, schemaVersion+"\n")
	io.WriteString(h, location+"\n")
	io.WriteString(h, etag)
	return hex.EncodeToString(h.Sum(nil))
}

// Nop is a Backend that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) (*Entry, error) { return nil, ErrNotFound }
func (Nop) Put(context.Context, *Entry) error            { return nil }
func (Nop) Name() string                                 { return "none" }
func (Nop) Close() error                                 { return nil }

// Options selects and configures a backend for Open.
type Options struct {
	Backend string // none | file | redis
	Dir     string
	TTL     time.Duration
	Redis   RedisConfig
}

// Open returns the configured backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", "none":
		return Nop{}, nil
	case "file":
		return NewFileBackend(opts.Dir, opts.TTL)
	case "redis":
		cfg := opts.Redis
		if cfg.TTL == 0 {
			cfg.TTL = opts.TTL
		}
		return NewRedisBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}
}

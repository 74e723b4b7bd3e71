package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/nao1215/linkscout/internal/model"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a site.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")

	// ErrEmptySite is returned when a checkpoint has no site.
	ErrEmptySite = errors.New("site is empty")
)

// Store persists checkpoints and finished sessions.
type Store interface {
	// SaveCheckpoint replaces the checkpoint of cp.Site.
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error

	// LoadCheckpoint returns the latest checkpoint of site or ErrNotFound.
	LoadCheckpoint(ctx context.Context, site string) (*model.Checkpoint, error)

	// DeleteCheckpoint removes the checkpoint of site. Missing is not an error.
	DeleteCheckpoint(ctx context.Context, site string) error

	// SaveSession records a finished session. Saving the same id twice
	// overwrites the first entry.
	SaveSession(ctx context.Context, summary *model.CrawlSummary) error

	// ListSessions returns sessions newest first. An empty site lists every
	// site; limit <= 0 means no limit.
	ListSessions(ctx context.Context, site string, limit int) ([]model.CrawlSummary, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of BackendSQLite, BackendPostgres or BackendRedis.
	Backend string

	// DSN is the SQLite directory, the Postgres connection string or the
	// Redis URL.
	DSN string

	// TTL expires Redis keys. Zero keeps them forever.
	TTL time.Duration
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case BackendRedis:
		return OpenRedis(ctx, cfg.DSN, cfg.TTL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// SiteKey returns the storage key of site: the first 16 bytes of the
// SHA3-256 digest of the site with its host lowercased, hex encoded.
// The path keeps its case, so example.com/Blog and example.com/blog differ.
func SiteKey(site string) string {
	host, path, hasPath := strings.Cut(strings.TrimSpace(site), "/")
	key := strings.ToLower(host)
	if hasPath {
		key += "/" + path
	}
	sum := sha3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

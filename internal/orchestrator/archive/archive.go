// Package archive exports raw request samples after a run.
//
// Samples are ephemeral by default. When an archive URL is configured the
// engine writes every test's samples to one of:
//
//	sqlite:///var/lib/loadctl/samples.db
//	redis://localhost:6379/0
package archive

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
)

// Archive stores the raw samples of finished tests.
type Archive interface {
	// Write stores samples for one test of a run. Writing the same run and
	// test twice appends.
	Write(ctx context.Context, runID, testID string, samples []orchestrator.RequestSample) error

	// Close releases the underlying connection.
	Close() error
}

// Open returns the archive addressed by rawURL.
func Open(rawURL string) (Archive, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid archive URL: %w", err)
	}

	switch u.Scheme {
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			return nil, fmt.Errorf("invalid archive URL %q: missing database path", rawURL)
		}
		return NewSQLiteArchive(path)
	case "redis":
		// go-redis rejects options it does not know
		q := u.Query()
		prefix := strings.TrimSpace(q.Get("prefix"))
		q.Del("prefix")
		u.RawQuery = q.Encode()

		opt, err := redis.ParseURL(u.String())
		if err != nil {
			return nil, fmt.Errorf("invalid archive URL: %w", err)
		}
		return NewRedisArchive(redis.NewClient(opt), prefix), nil
	default:
		return nil, fmt.Errorf("unsupported archive scheme %q (must be sqlite or redis)", u.Scheme)
	}
}

// Package imagesource resolves opaque image references (local path,
// remote URL, object-storage key) to raw image bytes.
package imagesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/your-org/facegate/internal/facerec"
)

const (
	// fetchTimeout bounds a single remote fetch so an unreachable
	// resource cannot stall a connection indefinitely.
	fetchTimeout = 10 * time.Second

	// fetchRetries is the bounded retry count for remote reads.
	// Reads are idempotent; writes are never retried here.
	fetchRetries = 2
)

// ObjectGetter reads an object from storage by key.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Fetcher resolves image references. The zero value handles local
// paths and URLs; set Objects to resolve "minio://" keys.
type Fetcher struct {
	Objects ObjectGetter
	client  *http.Client
}

func NewFetcher(objects ObjectGetter) *Fetcher {
	return &Fetcher{
		Objects: objects,
		client:  &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch returns the image bytes behind ref. All failure causes are
// reported as facerec.ErrImageFetch.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.fetchURL(ctx, ref)
	case strings.HasPrefix(ref, "minio://"):
		if f.Objects == nil {
			return nil, fmt.Errorf("%w: no object store configured for %s", facerec.ErrImageFetch, ref)
		}
		data, err := f.Objects.GetObject(ctx, strings.TrimPrefix(ref, "minio://"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", facerec.ErrImageFetch, err)
		}
		return data, nil
	default:
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", facerec.ErrImageFetch, err)
		}
		return data, nil
	}
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", facerec.ErrImageFetch, ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		data, err := f.getOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", facerec.ErrImageFetch, lastErr)
}

func (f *Fetcher) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

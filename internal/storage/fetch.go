package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"redub/internal/logging"
	"redub/internal/services"
)

const maxErrorBody = 512

// Fetcher stages a job's source video into its working area. A source is an
// http(s) URL, a file:// URL or absolute path, or an object key in the store.
type Fetcher struct {
	store  *Store
	client *http.Client
	logger *slog.Logger
}

// NewFetcher constructs a Fetcher. Remote downloads are bounded by timeout.
func NewFetcher(store *Store, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Fetcher{
		store:  store,
		client: &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "fetcher"),
	}
}

// Fetch writes source to dest, overwriting any previous copy, and returns the byte count.
func (f *Fetcher) Fetch(ctx context.Context, source, dest string) (int64, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return 0, services.Wrap(services.ErrValidation, "prepare", "fetch", "source is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	var (
		n   int64
		err error
	)
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		n, err = f.download(ctx, source, dest)
	case strings.HasPrefix(source, "file://"):
		u, parseErr := url.Parse(source)
		if parseErr != nil {
			return 0, services.Wrap(services.ErrValidation, "prepare", "fetch", "invalid file url", parseErr)
		}
		n, err = copyLocal(u.Path, dest)
	case filepath.IsAbs(source):
		n, err = copyLocal(source, dest)
	default:
		if f.store == nil {
			return 0, services.Wrap(services.ErrConfiguration, "prepare", "fetch", "no object store configured", nil)
		}
		var p string
		if _, err = f.store.Stat(source); err == nil {
			p, err = f.store.Path(source)
		}
		if err == nil {
			n, err = copyLocal(p, dest)
		}
	}
	if err != nil {
		return 0, err
	}
	logging.WithContext(ctx, f.logger).Info("source staged",
		logging.String("source", redact(source)),
		logging.Int64("bytes", n),
	)
	return n, nil
}

func (f *Fetcher) download(ctx context.Context, source, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, "prepare", "download", "invalid source url", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, services.Wrap(services.ErrTimeout, "prepare", "download", "interrupted", ctx.Err())
		}
		return 0, services.Wrap(services.ErrTransient, "prepare", "download", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, services.Wrap(services.StatusMarker(resp.StatusCode), "prepare", "download",
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	n, err := writeFile(dest, resp.Body)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "prepare", "download", "write source", err)
	}
	if n == 0 {
		return 0, services.Wrap(services.ErrValidation, "prepare", "download", "source is empty", nil)
	}
	return n, nil
}

func copyLocal(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return 0, services.Wrap(services.ErrNotFound, "prepare", "fetch", src, nil)
	}
	if err != nil {
		return 0, fmt.Errorf("fetch open %s: %w", src, err)
	}
	defer in.Close()
	return writeFile(dest, in)
}

func writeFile(dest string, r io.Reader) (int64, error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// redact strips query strings, which often carry signed-URL credentials.
func redact(source string) string {
	if idx := strings.IndexByte(source, '?'); idx >= 0 {
		return source[:idx] + "?..."
	}
	return source
}

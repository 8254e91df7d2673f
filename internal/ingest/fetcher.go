package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/nwpingest/internal/httputil"
)

type FetchStatus int

const (
	Available FetchStatus = iota
	NotYetPublished
	TransportError
)

func (s FetchStatus) String() string {
	switch s {
	case Available:
		return "available"
	case NotYetPublished:
		return "not_published"
	}
	return "transport_error"
}

// FetchOutcome is the result of asking the file source for one URL. Path
// is set only when the file is Available.
type FetchOutcome struct {
	Status FetchStatus
	Path   string
	Err    error
}

// Fetcher downloads a model file into dir.
type Fetcher interface {
	Fetch(ctx context.Context, dir, rawURL string) FetchOutcome
}

var errNotPublished = errors.New("not yet published")

// SourceFetcher downloads over HTTP(S), retrying throttling and server
// errors, or from ftp:// mirrors.
type SourceFetcher struct {
	client      *http.Client
	maxElapsed  time.Duration
	ftpTimeout  time.Duration
	initialWait time.Duration
}

func NewSourceFetcher() *SourceFetcher {
	return &SourceFetcher{
		client:     httputil.NewClient(),
		maxElapsed: 2 * time.Minute,
		ftpTimeout: 30 * time.Second,
	}
}

func (f *SourceFetcher) Fetch(ctx context.Context, dir, rawURL string) FetchOutcome {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FetchOutcome{Status: TransportError, Err: fmt.Errorf("parse url: %w", err)}
	}
	dest := filepath.Join(dir, fileName(u))

	switch u.Scheme {
	case "http", "https":
		err = f.fetchHTTP(ctx, rawURL, dest)
	case "ftp":
		err = f.fetchFTP(ctx, u, dest)
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	switch {
	case err == nil:
		return FetchOutcome{Status: Available, Path: dest}
	case errors.Is(err, errNotPublished):
		return FetchOutcome{Status: NotYetPublished}
	default:
		return FetchOutcome{Status: TransportError, Err: err}
	}
}

func fileName(u *url.URL) string {
	if name := u.Query().Get("file"); name != "" {
		return path.Base(name)
	}
	if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
		return name
	}
	return "model.grib2"
}

func (f *SourceFetcher) fetchHTTP(ctx context.Context, rawURL, dest string) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("fetch: status %d", resp.StatusCode)
		default:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("%w: status %d", errNotPublished, resp.StatusCode))
		}

		if err := writeFile(dest, resp.Body); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.maxElapsed
	if f.initialWait > 0 {
		bo.InitialInterval = f.initialWait
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func (f *SourceFetcher) fetchFTP(ctx context.Context, u *url.URL, dest string) error {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}
	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.ftpTimeout))
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
			return fmt.Errorf("%w: %s", errNotPublished, u.Path)
		}
		return fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	return writeFile(dest, resp)
}

func writeFile(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return out.Close()
}

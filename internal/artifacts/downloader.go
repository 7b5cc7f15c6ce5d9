// Package artifacts downloads the reports a completed analysis produced and
// optionally copies them to S3 or Azure Blob Storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/diskspace"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/http"
	"github.com/examlytics/examctl/internal/logging"
	"github.com/examlytics/examctl/internal/models"
	"github.com/examlytics/examctl/internal/progress"
	"github.com/examlytics/examctl/internal/validation"
)

// ErrNotCompleted is returned when artifacts are requested for a job that has
// not finished successfully.
var ErrNotCompleted = errors.New("job has not completed")

// Resolver turns artifact references into absolute URLs. api.Client
// implements it.
type Resolver interface {
	ResolveURL(ref string) (string, error)
	SameOrigin(rawURL string) bool
}

// Result describes one artifact after Download.
type Result struct {
	Artifact models.Artifact
	Path     string
	Bytes    int64
	Err      error
}

// Downloader fetches artifacts concurrently into a directory.
type Downloader struct {
	resolver    Resolver
	httpClient  *nethttp.Client
	auth        api.Authorizer
	bus         *events.EventBus
	logger      *logging.Logger
	retry       http.Config
	concurrency int
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithAuthorizer attaches the session bearer to requests for the API host.
// Artifacts served from any other host are fetched anonymously.
func WithAuthorizer(a api.Authorizer) Option {
	return func(d *Downloader) { d.auth = a }
}

// WithEventBus publishes EventArtifactDownloaded for every saved file.
func WithEventBus(bus *events.EventBus) Option {
	return func(d *Downloader) { d.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg http.Config) Option {
	return func(d *Downloader) { d.retry = cfg }
}

// WithConcurrency bounds parallel downloads.
func WithConcurrency(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDownloader creates a Downloader. httpClient should come from
// http.CreateTransferClient so proxy settings apply.
func NewDownloader(resolver Resolver, httpClient *nethttp.Client, opts ...Option) *Downloader {
	if httpClient == nil {
		httpClient = nethttp.DefaultClient
	}
	d := &Downloader{
		resolver:    resolver,
		httpClient:  httpClient,
		logger:      logging.Nop(),
		retry:       http.DefaultConfig(),
		concurrency: constants.MaxConcurrentDownloads,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download saves every artifact of job under dir/<job id>/. Results are in
// the order of job.Artifacts(). The returned error joins all per-artifact
// failures; successful files are kept even when others fail.
func (d *Downloader) Download(ctx context.Context, job *models.ExamUpload, dir string, ui progress.DownloadProgress) ([]Result, error) {
	if job == nil || job.Status != models.StatusCompleted {
		return nil, ErrNotCompleted
	}
	if ui == nil {
		ui = progress.Discard
	}

	artifacts := job.Artifacts()
	if len(artifacts) == 0 {
		return nil, nil
	}

	if err := validation.Filename(job.ID.String()); err != nil {
		return nil, fmt.Errorf("unusable job id: %w", err)
	}
	outDir := filepath.Join(dir, job.ID.String())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	results := make([]Result, len(artifacts))
	semaphore := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for i, a := range artifacts {
		wg.Add(1)
		go func(idx int, a models.Artifact) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[idx] = Result{Artifact: a, Err: ctx.Err()}
				return
			}
			defer func() { <-semaphore }()

			res := d.fetch(ctx, job.ID, a, outDir, idx+1, ui)
			results[idx] = res
			if res.Err != nil {
				d.logger.Warn().Err(res.Err).Str("job_id", job.ID.String()).Str("artifact", a.Name).Msg("artifact download failed")
				return
			}
			d.logger.Info().Str("job_id", job.ID.String()).Str("path", res.Path).Int64("bytes", res.Bytes).Msg("artifact downloaded")
			d.bus.PublishArtifact(events.EventArtifactDownloaded, job.ID.String(), a.Name, res.Path, res.Bytes, "local")
		}(i, a)
	}
	wg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Artifact.Name, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (d *Downloader) fetch(ctx context.Context, jobID models.ID, a models.Artifact, outDir string, index int, ui progress.DownloadProgress) Result {
	res := Result{Artifact: a}

	rawURL, err := d.resolver.ResolveURL(a.URL)
	if err != nil {
		res.Err = err
		return res
	}
	name, err := FileName(a, rawURL)
	if err != nil {
		res.Err = err
		return res
	}
	res.Path = filepath.Join(outDir, name)

	var bar progress.FileBarHandle
	retry := d.retry
	attempts := 0
	retry.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		attempts = attempt
		d.logger.Debug().Err(err).Str("artifact", a.Name).Int("attempt", attempt).
			Str("error_type", http.ErrorTypeName(errType)).Msg("retrying artifact download")
	}

	err = http.ExecuteWithRetry(ctx, retry, func() error {
		n, err := d.fetchOnce(ctx, rawURL, res.Path, func(size int64) progress.FileBarHandle {
			if bar == nil {
				bar = ui.AddFileBar(index, name, res.Path, size)
			} else {
				bar.SetRetry(attempts)
			}
			return bar
		})
		res.Bytes = n
		return err
	})
	if bar == nil {
		bar = ui.AddFileBar(index, name, res.Path, -1)
	}
	bar.Complete(err)
	if err != nil {
		res.Err = err
		res.Bytes = 0
	}
	return res
}

// fetchOnce performs one GET and writes the body through a temp file so a
// failed attempt never leaves a truncated artifact at dest.
func (d *Downloader) fetchOnce(ctx context.Context, rawURL, dest string, barFor func(size int64) progress.FileBarHandle) (int64, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	authorized := d.auth != nil && d.resolver.SameOrigin(rawURL)
	if authorized {
		d.auth.Attach(req)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if authorized && resp.StatusCode == nethttp.StatusUnauthorized {
			d.auth.HandleUnauthorized(resp)
		}
		return 0, &http.StatusError{StatusCode: resp.StatusCode, URL: redact(rawURL)}
	}

	if err := diskspace.CheckAvailableSpace(dest, resp.ContentLength, 1+constants.DiskSpaceBufferPercent); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".examctl-*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bar := barFor(resp.ContentLength)
	n, err := io.Copy(tmp, bar.Wrap(resp.Body))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", filepath.Base(dest), err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return 0, fmt.Errorf("short body for %s: got %d of %d bytes: %w", filepath.Base(dest), n, resp.ContentLength, io.ErrUnexpectedEOF)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}
	return n, nil
}

// FileName picks the local file name for an artifact: the last path segment
// of its URL, or the artifact name when the URL has none.
func FileName(a models.Artifact, rawURL string) (string, error) {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = a.Name
	}
	if err := validation.Filename(name); err != nil {
		return "", fmt.Errorf("invalid artifact file name: %w", err)
	}
	return name, nil
}

// redact drops the query string, which carries signatures for storage URLs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}

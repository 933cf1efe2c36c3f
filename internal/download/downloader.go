package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/manifest"
	"watchcompanion/internal/metrics"
	"watchcompanion/internal/telemetry"
)

const maxDrainBytes = 64 << 10

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes the segment pipeline.
type Config struct {
	SampleSize        int           // segments probed for the size estimate (default 10)
	ProbeConcurrency  int           // parallel HEAD probes (default 4)
	RateLimitBackoff  time.Duration // wait after a 429 (default 10s)
	RateLimitRetries  int           // retries per segment after a 429 (default 1)
	SegmentsPerSecond float64       // 0 = unpaced
	TokenParams       []string
	FilenameTemplate  string
}

func DefaultConfig() Config {
	return Config{
		SampleSize:       10,
		ProbeConcurrency: 4,
		RateLimitBackoff: 10 * time.Second,
		RateLimitRetries: 1,
		TokenParams:      manifest.DefaultTokenParams,
		FilenameTemplate: DefaultFilenameTemplate,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SampleSize <= 0 {
		c.SampleSize = def.SampleSize
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = def.ProbeConcurrency
	}
	if c.RateLimitBackoff < 0 {
		c.RateLimitBackoff = 0
	}
	if c.RateLimitRetries < 0 {
		c.RateLimitRetries = 0
	}
	if len(c.TokenParams) == 0 {
		c.TokenParams = def.TokenParams
	}
	if strings.TrimSpace(c.FilenameTemplate) == "" {
		c.FilenameTemplate = def.FilenameTemplate
	}
	return c
}

// Callbacks receive job feedback. Exactly one of OnSuccess and OnFailure is
// called per Download.
type Callbacks struct {
	OnProgress func(domain.DownloadProgress)
	OnSuccess  func(Result)
	OnFailure  func(error)
}

type Result struct {
	Filename string `json:"filename"`
	Location string `json:"location"`
	Bytes    int64  `json:"bytes"`
	Segments int    `json:"segments"`
}

// Downloader turns a manifest URL (or a plain file URL) into one saved file.
type Downloader struct {
	client HTTPDoer
	saver  ports.Saver
	cfg    Config
	logger *slog.Logger
}

func New(client HTTPDoer, saver ports.Saver, cfg Config, logger *slog.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, saver: saver, cfg: cfg.withDefaults(), logger: logger}
}

// Download runs the whole job synchronously. Segments are fetched strictly one
// after another.
func (d *Downloader) Download(ctx context.Context, job domain.DownloadJob, cb Callbacks) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "download.job", trace.WithAttributes(
		attribute.String("download.id", job.ID),
		attribute.String("download.title", job.Title),
		attribute.Int("download.episode", job.EpisodeNumber),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.DownloadsTotal.WithLabelValues("failed").Inc()
			d.logger.Error("download failed",
				slog.String("jobId", job.ID),
				slog.String("title", job.Title),
				slog.String("error", err.Error()),
			)
			if cb.OnFailure != nil {
				cb.OnFailure(err)
			}
		} else {
			span.SetAttributes(attribute.Int64("download.bytes", res.Bytes))
			metrics.DownloadsTotal.WithLabelValues("succeeded").Inc()
			d.logger.Info("download finished",
				slog.String("jobId", job.ID),
				slog.String("location", res.Location),
				slog.Int("segments", res.Segments),
				slog.Int64("bytes", res.Bytes),
			)
			if cb.OnSuccess != nil {
				cb.OnSuccess(res)
			}
		}
		span.End()
	}()

	body, err := d.fetchManifest(ctx, job.URL)
	if err != nil {
		return Result{}, err
	}

	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("#EXTM3U")) {
		return d.saveSingle(ctx, job, body, cb)
	}

	segments, err := d.resolveSegments(ctx, job, string(body))
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("download.segments", len(segments)))

	estimate, err := d.estimateSize(ctx, segments)
	if err != nil {
		return Result{}, err
	}

	var limiter *rate.Limiter
	if d.cfg.SegmentsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.SegmentsPerSecond), 1)
	}

	total := len(segments)
	progress := domain.DownloadProgress{Total: total, EstimatedTotalBytes: estimate}
	report(cb, progress)

	var buf bytes.Buffer
	for i, segURL := range segments {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return Result{}, permanent(i, 0, err)
			}
		}
		data, err := d.fetchSegment(ctx, i, segURL)
		if err != nil {
			return Result{}, err
		}
		buf.Write(data)
		metrics.DownloadBytesTotal.Add(float64(len(data)))

		progress.Done = i + 1
		progress.DoneBytes += int64(len(data))
		progress.Percentage = percentage(progress.Done, total)
		if estimate <= 0 {
			progress.EstimatedTotalBytes = progress.DoneBytes / int64(progress.Done) * int64(total)
		}
		report(cb, progress)
	}

	filename := RenderFilename(d.template(job), job, extensionFor(job.URL, true))
	location, err := d.save(ctx, filename, &buf)
	if err != nil {
		return Result{}, err
	}
	return Result{Filename: filename, Location: location, Bytes: progress.DoneBytes, Segments: total}, nil
}

func (d *Downloader) template(job domain.DownloadJob) string {
	if strings.TrimSpace(job.FilenameTemplate) != "" {
		return job.FilenameTemplate
	}
	return d.cfg.FilenameTemplate
}

// saveSingle handles sources that already expose one downloadable file.
func (d *Downloader) saveSingle(ctx context.Context, job domain.DownloadJob, body []byte, cb Callbacks) (Result, error) {
	size := int64(len(body))
	report(cb, domain.DownloadProgress{Total: 1, EstimatedTotalBytes: size})
	report(cb, domain.DownloadProgress{Percentage: 100, Done: 1, Total: 1, DoneBytes: size, EstimatedTotalBytes: size})
	metrics.DownloadBytesTotal.Add(float64(size))

	filename := RenderFilename(d.template(job), job, extensionFor(job.URL, false))
	location, err := d.save(ctx, filename, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	return Result{Filename: filename, Location: location, Bytes: size, Segments: 1}, nil
}

func (d *Downloader) save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if d.saver == nil {
		return "", permanent(-1, 0, errors.New("no saver configured"))
	}
	location, err := d.saver.Save(ctx, filename, r)
	if err != nil {
		return "", permanent(-1, 0, fmt.Errorf("save %q: %w", filename, err))
	}
	return location, nil
}

func (d *Downloader) fetchManifest(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, permanent(-1, 0, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, permanent(-1, 0, fmt.Errorf("%w: %v", domain.ErrTransport, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, permanent(-1, resp.StatusCode, classifyStatus(resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, permanent(-1, 0, fmt.Errorf("%w: %v", domain.ErrTransport, err))
	}
	return body, nil
}

// resolveSegments parses the manifest, follows a master playlist to the
// wanted variant, and propagates the manifest's auth parameters.
func (d *Downloader) resolveSegments(ctx context.Context, job domain.DownloadJob, body string) ([]string, error) {
	rule := manifest.TokenRule{Params: d.cfg.TokenParams}
	manifestURL := job.URL

	pl, err := manifest.Parse(body, manifestURL)
	if err != nil {
		return nil, permanent(-1, 0, err)
	}
	if pl.IsMaster() {
		variant, _ := manifest.SelectVariant(pl.Variants, job.Quality)
		variantURL := manifest.Propagate(variant.URL, rule.AuthParams(manifestURL))
		d.logger.Debug("download: following variant",
			slog.String("jobId", job.ID),
			slog.String("variant", variant.Label()),
		)
		raw, err := d.fetchManifest(ctx, variantURL)
		if err != nil {
			return nil, err
		}
		manifestURL = variantURL
		pl, err = manifest.Parse(string(raw), manifestURL)
		if err != nil {
			return nil, permanent(-1, 0, err)
		}
		if pl.IsMaster() {
			return nil, permanent(-1, 0, errors.New("nested master playlist"))
		}
	}
	return manifest.PropagateAll(pl.Segments, rule.AuthParams(manifestURL)), nil
}

// estimateSize HEAD-probes a fixed sample of segments and extrapolates. Probe
// failures only weaken the estimate, except 403 which ends the job.
func (d *Downloader) estimateSize(ctx context.Context, segments []string) (int64, error) {
	sample := segments
	if len(sample) > d.cfg.SampleSize {
		sample = sample[:d.cfg.SampleSize]
	}

	var (
		mu    sync.Mutex
		sum   int64
		count int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.ProbeConcurrency)
	for i, segURL := range sample {
		i, segURL := i, segURL
		g.Go(func() error {
			size, status, err := d.probe(gctx, segURL)
			if status == http.StatusForbidden {
				return permanent(i, status, domain.ErrAuthExpired)
			}
			if err != nil || size <= 0 {
				return nil
			}
			mu.Lock()
			sum += size
			count++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	return sum / count * int64(len(segments)), nil
}

func (d *Downloader) probe(ctx context.Context, rawURL string) (int64, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, resp.StatusCode, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return resp.ContentLength, resp.StatusCode, nil
}

// fetchSegment GETs one segment. A 429 waits RateLimitBackoff and retries the
// same segment up to RateLimitRetries times; every other non-2xx is final.
func (d *Downloader) fetchSegment(ctx context.Context, index int, rawURL string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		data, status, err := d.get(ctx, rawURL)
		if err != nil {
			return nil, permanent(index, 0, fmt.Errorf("%w: %v", domain.ErrTransport, err))
		}
		if status >= 200 && status <= 299 {
			return data, nil
		}
		if status != http.StatusTooManyRequests {
			return nil, permanent(index, status, classifyStatus(status))
		}
		if attempt >= d.cfg.RateLimitRetries {
			return nil, &Error{Segment: index, Status: status, Reason: ReasonRetriesExhausted, Err: domain.ErrRateLimited}
		}

		metrics.DownloadSegmentRetries.Inc()
		d.logger.Warn("download: segment rate limited, retrying",
			slog.Int("segment", index),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", d.cfg.RateLimitBackoff),
		)
		if err := sleep(ctx, d.cfg.RateLimitBackoff); err != nil {
			return nil, permanent(index, status, err)
		}
	}
}

func (d *Downloader) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		return nil, resp.StatusCode, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func percentage(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return float64(done) * 100 / float64(total)
}

func report(cb Callbacks, p domain.DownloadProgress) {
	if cb.OnProgress != nil {
		cb.OnProgress(p)
	}
}

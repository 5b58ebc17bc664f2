// Package pipeline runs the download stage: a bounded worker pool that
// de-duplicates download tasks and streams each file into staging.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-fenix-files/config"
	"github.com/aluiziolira/go-fenix-files/logging"
	"github.com/aluiziolira/go-fenix-files/models"
	"github.com/aluiziolira/go-fenix-files/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out waiting for workers")
)

var drainTimeout = 30 * time.Minute

// Downloader stages a single file.
type Downloader interface {
	Download(ctx context.Context, task *models.DownloadTask) (*models.StagedFile, error)
}

// Recorder receives download outcomes, typically Prometheus counters.
type Recorder interface {
	IncDownload(outcome string)
	AddBytes(n int64)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// Pipeline coordinates validation, de-duplication and downloads.
type Pipeline struct {
	ctx        context.Context
	downloader Downloader
	taskCh     chan *models.DownloadTask
	logger     *slog.Logger
	recorder   Recorder

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed
	closed bool

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, downloader Downloader, cfg *config.Config, opts ...Option) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	dedupeSize := cfg.DedupeMaxSize
	if dedupeSize <= 0 {
		dedupeSize = 10000
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		panic(err) // only reachable with a non-positive size
	}

	p := &Pipeline{
		ctx:        ctx,
		downloader: downloader,
		taskCh:     make(chan *models.DownloadTask, bufferSize),
		seen:       seen,
		metrics:    newMetrics(),
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDefault(p.logger)
	return p
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues tasks for download.
func (p *Pipeline) Process(tasks ...*models.DownloadTask) error {
	if len(tasks) == 0 {
		return nil
	}
	if p.isClosed() {
		return ErrPipelineClosed
	}

	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := p.enqueue(task); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting tasks and waits for queued downloads to finish.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.taskCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		p.signalShutdown()
		return nil
	case <-timer.C:
		p.signalShutdown()
		return ErrPipelineCloseTimeout
	}
}

// Stats returns a snapshot of the download counters.
func (p *Pipeline) Stats() models.DownloadStats {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s := p.Stats()
				p.logger.Info("download progress",
					slog.Int64("downloaded", s.Downloaded),
					slog.Int64("already_staged", s.AlreadyStaged),
					slog.Int64("failed", s.Failed),
					slog.Int("queued", len(p.taskCh)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for task := range p.taskCh {
		if !p.prepare(task) {
			continue
		}
		p.download(task)
	}
}

func (p *Pipeline) prepare(task *models.DownloadTask) bool {
	if err := parser.ValidateTask(task); err != nil {
		p.metrics.addFailure("invalid_task")
		p.logger.Warn("dropping invalid task", slog.Any("error", err))
		return false
	}
	if found, _ := p.seen.ContainsOrAdd(task.StagedName, struct{}{}); found {
		p.metrics.addDuplicate()
		p.logger.Debug("duplicate task", slog.String("staged_name", task.StagedName))
		return false
	}
	return true
}

func (p *Pipeline) download(task *models.DownloadTask) {
	staged, err := p.downloader.Download(p.ctx, task)
	if err != nil {
		kind := failureKind(err)
		p.metrics.addFailure(kind)
		if p.recorder != nil {
			p.recorder.IncDownload(kind)
		}
		p.logger.Error("download failed",
			slog.String("url", task.URL),
			slog.String("staged_name", task.StagedName),
			slog.String("kind", kind),
			slog.Any("error", err),
		)
		return
	}

	if staged.AlreadyPresent {
		p.metrics.addAlreadyStaged()
		if p.recorder != nil {
			p.recorder.IncDownload("already_staged")
		}
		p.logger.Debug("already staged", slog.String("staged_name", staged.Name))
		return
	}

	p.metrics.addDownloaded(staged.Bytes)
	if p.recorder != nil {
		p.recorder.IncDownload("downloaded")
		p.recorder.AddBytes(staged.Bytes)
	}
	logging.Stats(p.ctx, p.logger, "Downloaded: "+staged.Name, slog.Int64("bytes", staged.Bytes))
}

func (p *Pipeline) enqueue(task *models.DownloadTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.taskCh <- task:
		return nil
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu            sync.Mutex
	downloaded    int64
	alreadyStaged int64
	duplicates    int64
	failed        int64
	bytes         int64
	failures      map[string]int
}

func newMetrics() metrics {
	return metrics{
		failures: make(map[string]int),
	}
}

func (m *metrics) addDownloaded(n int64) {
	m.mu.Lock()
	m.downloaded++
	m.bytes += n
	m.mu.Unlock()
}

func (m *metrics) addAlreadyStaged() {
	m.mu.Lock()
	m.alreadyStaged++
	m.mu.Unlock()
}

func (m *metrics) addDuplicate() {
	m.mu.Lock()
	m.duplicates++
	m.mu.Unlock()
}

func (m *metrics) addFailure(kind string) {
	m.mu.Lock()
	m.failed++
	m.failures[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() models.DownloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	failures := make(map[string]int, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}

	return models.DownloadStats{
		Downloaded:     m.downloaded,
		AlreadyStaged:  m.alreadyStaged,
		DuplicateTasks: m.duplicates,
		Failed:         m.failed,
		Bytes:          m.bytes,
		FailuresByKind: failures,
	}
}

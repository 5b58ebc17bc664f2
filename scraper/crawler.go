package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-fenix-files/config"
	"github.com/aluiziolira/go-fenix-files/logging"
	"github.com/aluiziolira/go-fenix-files/models"
	"github.com/aluiziolira/go-fenix-files/parser"
	"golang.org/x/sync/errgroup"
)

// TaskSink receives the download tasks discovered by a crawl.
type TaskSink interface {
	Process(tasks ...*models.DownloadTask) error
}

// State is the crawler's position in the traversal.
type State int32

const (
	StateIdle State = iota
	StateLoggingIn
	StateDiscoveringCoursePages
	StateDiscoveringFiles
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoggingIn:
		return "LOGGING_IN"
	case StateDiscoveringCoursePages:
		return "DISCOVERING_COURSE_PAGES"
	case StateDiscoveringFiles:
		return "DISCOVERING_FILES"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Crawler drives login, course sidebar discovery and file discovery.
type Crawler struct {
	cfg      *config.Config
	session  *Session
	sidebar  parser.Rule
	files    parser.Rule
	template *parser.PathTemplate
	logger   *slog.Logger
	metrics  *Metrics

	state atomic.Int32

	coursePages    int64
	filePages      int64
	tasksEmitted   int64
	discardedLinks int64
	skippedLinks   int64
	errorCount     int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithLogger sets the crawler logger.
func WithLogger(logger *slog.Logger) CrawlerOption {
	return func(c *Crawler) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) CrawlerOption {
	return func(c *Crawler) {
		c.metrics = m
	}
}

// NewCrawler builds a crawler over session.
func NewCrawler(cfg *config.Config, session *Session, opts ...CrawlerOption) (*Crawler, error) {
	tmpl, err := parser.CompileTemplate(cfg.SectionTemplate)
	if err != nil {
		return nil, err
	}
	c := &Crawler{
		cfg:          cfg,
		session:      session,
		sidebar:      parser.SidebarRule(cfg.SidebarSelector),
		files:        parser.FileRule(cfg.FileSelector, cfg.FileExtensions),
		template:     tmpl,
		errorsByType: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger)
	return c, nil
}

// State returns the current traversal state.
func (c *Crawler) State() State {
	return State(c.state.Load())
}

func (c *Crawler) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("crawler state", slog.String("state", s.String()))
}

// Run performs a full traversal and hands every download task to sink.
// A failed login aborts the run before any course page is requested and
// returns an *AuthError. Page and link failures are counted in the result.
func (c *Crawler) Run(ctx context.Context, creds config.Credentials, sink TaskSink) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	c.setState(StateLoggingIn)
	if err := c.session.Login(ctx, creds); err != nil {
		c.setState(StateAborted)
		c.recordError(c.cfg.PortalURL, err)
		c.logger.Error("login failed", slog.Any("error", err))
		return c.result(start), err
	}

	courseTasks := make([]models.CrawlTask, 0, len(c.cfg.Courses))
	for _, courseURL := range c.cfg.CourseURLs() {
		courseTasks = append(courseTasks, models.CrawlTask{URL: courseURL, Rule: c.sidebar.Name, Stage: models.StageCourseSidebar})
	}

	c.setState(StateDiscoveringCoursePages)
	fileTasks := c.discoverCoursePages(ctx, courseTasks)
	if err := ctx.Err(); err != nil {
		c.setState(StateAborted)
		return c.result(start), err
	}

	c.setState(StateDiscoveringFiles)
	if err := c.discoverFiles(ctx, fileTasks, sink); err != nil {
		c.setState(StateAborted)
		return c.result(start), err
	}
	if err := ctx.Err(); err != nil {
		c.setState(StateAborted)
		return c.result(start), err
	}

	c.setState(StateDone)
	result := c.result(start)
	logging.Stats(ctx, c.logger, "crawl finished",
		slog.Int("course_pages", result.CoursePages),
		slog.Int("file_pages", result.FilePages),
		slog.Int("tasks", result.TasksEmitted),
		slog.Int("errors", result.ErrorCount),
	)
	return result, nil
}

func (c *Crawler) discoverCoursePages(ctx context.Context, tasks []models.CrawlTask) []models.CrawlTask {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		seen = make(map[string]struct{})
		out  []models.CrawlTask
	)
	g.SetLimit(c.cfg.Parallelism)

	for _, task := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			doc, err := c.session.FetchDocument(ctx, task.Stage, task.URL)
			if err != nil {
				c.recordError(task.URL, err)
				return nil
			}
			atomic.AddInt64(&c.coursePages, 1)
			if err := c.sidebar.Check(doc); err != nil {
				c.recordError(task.URL, err)
				return nil
			}

			for link := range c.sidebar.Links(doc) {
				c.logger.Debug("absolute_url", slog.String("url", link))
				if !strings.HasPrefix(link, c.cfg.CoursesURL) {
					atomic.AddInt64(&c.discardedLinks, 1)
					c.logger.Debug("discarding link outside courses prefix", slog.String("url", link))
					continue
				}
				mu.Lock()
				if _, dup := seen[link]; !dup {
					seen[link] = struct{}{}
					out = append(out, models.CrawlTask{URL: link, Rule: c.files.Name, Stage: models.StageFileList})
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Crawler) discoverFiles(ctx context.Context, tasks []models.CrawlTask, sink TaskSink) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)

	for _, task := range tasks {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			doc, err := c.session.FetchDocument(gctx, task.Stage, task.URL)
			if err != nil {
				c.recordError(task.URL, err)
				return nil
			}
			atomic.AddInt64(&c.filePages, 1)
			if err := c.files.Check(doc); err != nil {
				c.recordError(task.URL, err)
				return nil
			}

			pageURL := doc.URL.String()
			for link := range c.files.Links(doc) {
				dl, err := parser.NewDownloadTask(pageURL, link, c.template)
				if err != nil {
					atomic.AddInt64(&c.skippedLinks, 1)
					c.logger.Warn("skipping file link", slog.String("page", pageURL), slog.String("url", link), slog.Any("error", err))
					continue
				}
				c.logger.Info("file url found", slog.String("url", dl.URL), slog.String("staged_name", dl.StagedName))
				if err := sink.Process(dl); err != nil {
					return fmt.Errorf("hand off %s: %w", dl.StagedName, err)
				}
				atomic.AddInt64(&c.tasksEmitted, 1)
				c.metrics.IncTasks()
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Crawler) recordError(target string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	atomic.AddInt64(&c.errorCount, 1)

	category := errorTypeLabel(err)
	var extractErr *parser.ExtractionError
	if errors.As(err, &extractErr) {
		category = "extraction"
	}

	c.mu.Lock()
	c.errorsByType[category]++
	c.failedURLs = append(c.failedURLs, target)
	c.mu.Unlock()

	c.metrics.IncError(category)
	c.logger.Error("request error",
		slog.String("url", target),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func (c *Crawler) result(start time.Time) *models.CrawlResult {
	c.mu.Lock()
	failed := make([]string, len(c.failedURLs))
	copy(failed, c.failedURLs)
	byType := make(map[string]int, len(c.errorsByType))
	for k, v := range c.errorsByType {
		byType[k] = v
	}
	c.mu.Unlock()

	return &models.CrawlResult{
		State:          c.State().String(),
		StartTime:      start,
		EndTime:        time.Now(),
		CoursePages:    int(atomic.LoadInt64(&c.coursePages)),
		FilePages:      int(atomic.LoadInt64(&c.filePages)),
		TasksEmitted:   int(atomic.LoadInt64(&c.tasksEmitted)),
		DiscardedLinks: int(atomic.LoadInt64(&c.discardedLinks)),
		SkippedLinks:   int(atomic.LoadInt64(&c.skippedLinks)),
		ErrorCount:     int(atomic.LoadInt64(&c.errorCount)),
		ErrorsByType:   byType,
		FailedURLs:     failed,
		RequestCount:   c.session.RequestCount(),
	}
}

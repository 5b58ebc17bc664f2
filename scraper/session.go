package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-fenix-files/config"
	"github.com/aluiziolira/go-fenix-files/logging"
	"github.com/aluiziolira/go-fenix-files/models"
	"github.com/aluiziolira/go-fenix-files/parser"
	"github.com/gocolly/colly/v2"
	"golang.org/x/text/unicode/norm"
)

// ErrNotAuthenticated is returned when a page fetch is attempted before a successful login.
var ErrNotAuthenticated = errors.New("session is not authenticated")

// Session wraps the colly collector that carries cookies, redirects and
// per-domain parallelism for every request of a run.
type Session struct {
	cfg       *config.Config
	collector *colly.Collector
	jar       http.CookieJar
	transport http.RoundTripper
	metrics   *Metrics
	logger    *slog.Logger

	authenticated atomic.Bool
	requestCount  int64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithTransport replaces the HTTP transport for pages and downloads.
func WithTransport(rt http.RoundTripper) SessionOption {
	return func(s *Session) {
		s.transport = rt
	}
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSessionMetrics sets the metrics sink.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession builds an unauthenticated session from cfg.
func NewSession(cfg *config.Config, opts ...SessionOption) (*Session, error) {
	if _, err := url.Parse(cfg.PortalURL); err != nil {
		return nil, fmt.Errorf("parse portal url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	s := &Session{
		cfg: cfg,
		jar: jar,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)

	options := []colly.CollectorOption{
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	}
	if len(cfg.AllowedDomains) > 0 {
		options = append(options, colly.AllowedDomains(cfg.AllowedDomains...))
	}
	collector := colly.NewCollector(options...)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(s.transport)
	collector.SetCookieJar(jar)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s.collector = collector
	return s, nil
}

// HTTPClient returns a client sharing the session cookies, for streaming downloads.
func (s *Session) HTTPClient() *http.Client {
	return &http.Client{
		Jar:       s.jar,
		Transport: s.transport,
		Timeout:   s.cfg.DownloadTimeout,
	}
}

// Authenticated reports whether Login succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

// RequestCount returns the number of page requests issued so far.
func (s *Session) RequestCount() int {
	return int(atomic.LoadInt64(&s.requestCount))
}

// Login fetches the portal login form, submits the credentials together
// with any hidden fields of the form, follows the redirect and checks the
// landing page.
func (s *Session) Login(ctx context.Context, creds config.Credentials) error {
	s.logger.Info("logging in", slog.String("portal", s.cfg.PortalURL), slog.Any("credentials", creds))

	loginPage, err := s.fetch(ctx, models.StageLogin, http.MethodGet, s.cfg.PortalURL, nil)
	if err != nil {
		return &AuthError{Kind: ErrNetworkFailure, Step: "fetch login page", Err: err}
	}

	form, err := parseLoginForm(loginPage)
	if err != nil {
		return &AuthError{Kind: ErrLoginFailed, Step: "parse login form", Err: err}
	}
	form.fields[form.userField] = creds.Username
	form.fields[form.passField] = creds.Password

	cookieBefore := s.sessionCookie()
	landing, err := s.fetch(ctx, models.StageLogin, http.MethodPost, form.action, form.fields)
	if err != nil {
		var status ErrHTTPStatus
		if errors.As(err, &status) && (status.StatusCode == http.StatusUnauthorized || status.StatusCode == http.StatusForbidden) {
			return &AuthError{Kind: ErrLoginFailed, Step: "submit credentials", Err: err}
		}
		return &AuthError{Kind: ErrNetworkFailure, Step: "submit credentials", Err: err}
	}

	if !s.loggedIn(landing, cookieBefore) {
		return &AuthError{Kind: ErrLoginFailed, Step: "verify landing page"}
	}

	s.authenticated.Store(true)
	s.logger.Info("login succeeded", slog.String("landing", landing.url.String()))
	return nil
}

// FetchDocument fetches target and parses it as HTML. It refuses to run
// before a successful login.
func (s *Session) FetchDocument(ctx context.Context, stage models.Stage, target string) (*parser.Document, error) {
	if !s.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	p, err := s.fetch(ctx, stage, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return parser.ParseDocument(p.url, p.body)
}

// loggedIn trusts the session cookie only when the credential POST set or
// changed it. A cookie handed out with the login page proves nothing.
func (s *Session) loggedIn(landing *page, cookieBefore string) bool {
	if s.cfg.SessionCookie != "" {
		if after := s.sessionCookie(); after != "" && after != cookieBefore {
			return true
		}
	}
	return LoginVerdict(landing.body, s.cfg.LoginMarkers)
}

// sessionCookie returns the configured session cookie's value for the
// portal, or "" when it is not in the jar.
func (s *Session) sessionCookie() string {
	if s.cfg.SessionCookie == "" {
		return ""
	}
	portal, err := url.Parse(s.cfg.PortalURL)
	if err != nil {
		return ""
	}
	for _, cookie := range s.jar.Cookies(portal) {
		if cookie.Name == s.cfg.SessionCookie {
			return cookie.Value
		}
	}
	return ""
}

// LoginVerdict reports whether body contains one of the authenticated-only
// markers. Both sides are NFC normalized so "Notícias" matches however the
// accent is encoded.
func LoginVerdict(body []byte, markers []string) bool {
	text := norm.NFC.String(string(body))
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if strings.Contains(text, norm.NFC.String(marker)) {
			return true
		}
	}
	return false
}

type page struct {
	url    *url.URL
	body   []byte
	status int
}

func (s *Session) fetch(ctx context.Context, stage models.Stage, method, target string, form map[string]string) (*page, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := s.collector.Clone()
	c.Context = ctx

	var (
		result   *page
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		atomic.AddInt64(&s.requestCount, 1)
		s.metrics.IncRequest(stage.String())
	})
	c.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			s.metrics.ObserveDuration(time.Since(start))
		}
		result = &page{url: r.Request.URL, body: r.Body, status: r.StatusCode}
	})
	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = classifyError(err, statusCode)
	})

	var err error
	if method == http.MethodPost {
		err = c.Post(target, form)
	} else {
		err = c.Visit(target)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if err != nil {
		return nil, classifyError(err, 0)
	}
	if result == nil {
		return nil, fmt.Errorf("no response for %s", target)
	}
	return result, nil
}

type loginForm struct {
	action    string
	userField string
	passField string
	fields    map[string]string
}

// parseLoginForm reads the form holding a password input, or the first
// form of the page, keeping every named field so anti-forgery tokens are
// submitted back along with the first named submit control.
func parseLoginForm(p *page) (*loginForm, error) {
	doc, err := parser.ParseDocument(p.url, p.body)
	if err != nil {
		return nil, err
	}

	form := doc.Doc.Find(`form:has(input[type="password"])`).First()
	if form.Length() == 0 {
		form = doc.Doc.Find("form").First()
	}
	if form.Length() == 0 {
		return nil, fmt.Errorf("no form on %s", p.url)
	}

	action := p.url
	if raw, ok := form.Attr("action"); ok && strings.TrimSpace(raw) != "" {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse form action: %w", err)
		}
		action = p.url.ResolveReference(ref)
	}

	lf := &loginForm{
		action:    action.String(),
		userField: "username",
		passField: "password",
		fields:    make(map[string]string),
	}

	var firstText string
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			return
		}
		kind := strings.ToLower(s.AttrOr("type", "text"))
		switch {
		case goquery.NodeName(s) == "select":
			lf.fields[name] = s.Find("option[selected]").First().AttrOr("value", s.Find("option").First().AttrOr("value", ""))
			return
		case goquery.NodeName(s) == "textarea":
			lf.fields[name] = s.Text()
			return
		}
		switch kind {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return
			}
		case "password":
			lf.passField = name
		case "text", "email":
			if firstText == "" {
				firstText = name
			}
		}
		lf.fields[name] = s.AttrOr("value", "")
	})

	// The first submit control is the one a browser would click.
	form.Find("input[name], button[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		kind := strings.ToLower(s.AttrOr("type", ""))
		if goquery.NodeName(s) == "button" && kind == "" {
			kind = "submit"
		}
		name, _ := s.Attr("name")
		if kind != "submit" || name == "" {
			return true
		}
		lf.fields[name] = s.AttrOr("value", "")
		return false
	})

	if _, ok := lf.fields["username"]; !ok && firstText != "" {
		lf.userField = firstText
	}
	return lf, nil
}

package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/agentuity/go-guard/abuse"
	"github.com/agentuity/go-guard/cache"
	"github.com/agentuity/go-guard/config"
	"github.com/agentuity/go-guard/env"
	"github.com/agentuity/go-guard/guard"
	"github.com/agentuity/go-guard/logger"
	"github.com/agentuity/go-guard/ratelimit"
	"github.com/agentuity/go-guard/sys"
	"github.com/agentuity/go-guard/tui"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	articlesNamespace = "articles"
	articlesBucket    = "articles"
	adminBucket       = "admin"
	globalKey         = "global"
)

type server struct {
	guard      *guard.Guard
	cfg        config.Config
	logger     logger.Logger
	articles   *articleStore
	flight     *cache.Flight
	trustProxy bool
}

func newServer(g *guard.Guard, cfg config.Config, log logger.Logger, articles *articleStore, trustProxy bool) *server {
	return &server{
		guard:      g,
		cfg:        cfg,
		logger:     log.WithPrefix("[serve]"),
		articles:   articles,
		flight:     cache.NewFlight(),
		trustProxy: trustProxy,
	}
}

func (s *server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(s.requestLogger)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		s.logger.Warn("request %s %s failed with %d: %s", c.Request().Method, c.Path(), code, err)
		if !c.Response().Committed {
			c.JSON(code, map[string]string{"error": http.StatusText(code)})
		}
	}
	e.GET("/_health", s.handleHealth)
	e.GET("/articles", s.handleListArticles)
	e.GET("/articles/:slug", s.handleGetArticle)
	e.POST("/articles/:slug", s.handlePutArticle)
	e.GET("/admin/suspicious", s.handleSuspicious)
	return e
}

func (s *server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		s.logger.With(map[string]interface{}{
			"requestId": c.Response().Header().Get(echo.HeaderXRequestID),
		}).Debug("%s %s %d %s", c.Request().Method, c.Request().URL.Path, c.Response().Status, time.Since(started))
		return err
	}
}

func (s *server) clientIP(c echo.Context) string {
	return sys.ClientIP(c.Request(), s.trustProxy)
}

// limit checks the per-client and the global bucket of rule.
func (s *server) limit(c echo.Context, bucket string) ratelimit.Result {
	rule := s.cfg.Rule(bucket)
	res := s.guard.RateLimitAll(c.Request().Context(),
		ratelimit.Request{Bucket: bucket, Key: s.clientIP(c), Limit: rule.PerClient, Window: rule.Window.Std()},
		ratelimit.Request{Bucket: bucket, Key: globalKey, Limit: rule.Global, Window: rule.Window.Std()},
	)
	guard.SetRateLimitHeaders(c.Response().Header(), res)
	return res
}

func (s *server) rejected(c echo.Context, bucket string, res ratelimit.Result) error {
	s.guard.RecordSuspicious(c.Request().Context(), abuse.Offense{ID: s.clientIP(c), Bucket: bucket, Kind: "rate_limited"})
	c.Response().Header().Set(guard.HeaderRetryAfter, strconv.FormatInt(res.ResetSeconds(), 10))
	return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
}

func (s *server) handleHealth(c echo.Context) error {
	body := map[string]any{"status": "ok", "store": s.guard.Enabled()}
	if stats, ok := s.guard.BreakerStats(); ok {
		body["breaker"] = map[string]any{"state": stats.State.String(), "failures": stats.Failures}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *server) handleGetArticle(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")
	fingerprint := map[string]any{"slug": slug}

	if res := s.limit(c, articlesBucket); !res.Allowed {
		if stale := guard.Peek[*Article](ctx, s.guard, articlesNamespace, fingerprint); stale.Value() != nil {
			s.guard.RecordSuspicious(ctx, abuse.Offense{ID: s.clientIP(c), Bucket: articlesBucket, Kind: "rate_limited"})
			guard.SetStaleHeaders(c.Response().Header(), res)
			return c.JSON(http.StatusOK, stale.Value())
		}
		return s.rejected(c, articlesBucket, res)
	}

	article, err := guard.WrapJSON(ctx, s.guard, articlesNamespace, fingerprint, s.cfg.CacheTTL(articlesNamespace),
		func(ctx context.Context) (*Article, error) {
			return s.articles.Get(ctx, slug)
		})
	if err != nil {
		return err
	}
	if article == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
	}
	return c.JSON(http.StatusOK, article)
}

func (s *server) handleListArticles(c echo.Context) error {
	if res := s.limit(c, articlesBucket); !res.Allowed {
		return s.rejected(c, articlesBucket, res)
	}
	list, err := cache.Coalesce(c.Request().Context(), s.flight, s.guard.Cache(), articlesNamespace, "index",
		s.cfg.CacheTTL(articlesNamespace), s.articles.List)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

type articleInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *server) handlePutArticle(c echo.Context) error {
	if res := s.limit(c, adminBucket); !res.Allowed {
		return s.rejected(c, adminBucket, res)
	}
	var in articleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid article")
	}
	if in.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	article := s.articles.Put(c.Param("slug"), in.Title, in.Body)
	version := s.guard.Bump(c.Request().Context(), articlesNamespace)
	return c.JSON(http.StatusOK, map[string]any{"article": article, "cacheVersion": version})
}

func (s *server) handleSuspicious(c echo.Context) error {
	if !sys.IsLocalhost(s.clientIP(c)) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, s.guard.ListSuspicious(c.Request().Context(), limit))
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo article server in front of the cache and rate limiter",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":8080", "http listen address")
	cmd.Flags().String("metrics-listen", ":9090", "prometheus listen address, empty to disable")
	cmd.Flags().Bool("trust-proxy", false, "identify clients by X-Forwarded-For")
	cmd.Flags().Duration("load-delay", 50*time.Millisecond, "simulated database latency")
	cmd.Flags().String("otlp-url", "", "OTLP/HTTP collector url (GUARD_OTLP_URL)")
	cmd.Flags().String("otlp-shared-secret", "", "secret used to sign the collector token (GUARD_OTLP_SHARED_SECRET)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	shutdownTelemetry, err := env.NewTelemetry(cmd.Context(), cmd, "guardctl")
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	listen, _ := cmd.Flags().GetString("listen")
	metricsListen, _ := cmd.Flags().GetString("metrics-listen")
	trustProxy, _ := cmd.Flags().GetBool("trust-proxy")
	delay, _ := cmd.Flags().GetDuration("load-delay")

	g := guard.Connect(cmd.Context(), cfg, log)
	if !g.Enabled() {
		log.Warn("running without a store: every request is computed and allowed")
	}
	e := newServer(g, cfg, log, newArticleStore(delay, demoArticles...), trustProxy).routes()
	var metrics *http.Server
	if metricsListen != "" {
		metrics = &http.Server{Addr: metricsListen, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	}

	tui.ShowBanner("guardctl serve", "articles on "+listen+"\nmetrics on "+metricsListen)

	eg, ctx := errgroup.WithContext(cmd.Context())
	eg.Go(func() error {
		log.Info("listening on %s", listen)
		if err := e.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "article server")
		}
		return nil
	})
	if metrics != nil {
		eg.Go(func() error {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}
	eg.Go(func() error {
		select {
		case <-sys.CreateShutdownChannel():
			log.Info("shutting down")
		case <-ctx.Done():
		}
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metrics != nil {
			metrics.Shutdown(sctx)
		}
		return e.Shutdown(sctx)
	})
	return eg.Wait()
}

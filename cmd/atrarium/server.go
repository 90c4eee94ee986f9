package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atrarium/atrarium/community"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
)

// Server is the feed-serving read path: it translates feed-skeleton HTTP
// reads into community actor calls. All other surfaces (dashboard, auth,
// CRUD) live elsewhere.
type Server struct {
	mgr    *community.Manager
	logger *slog.Logger
	echo   *echo.Echo
}

type Config struct {
	Logger *slog.Logger
}

func NewServer(mgr *community.Manager, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return &Server{
		mgr:    mgr,
		logger: logger,
	}
}

type healthStatus struct {
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (s *Server) handleHealthCheck(e echo.Context) error {
	return e.JSON(200, healthStatus{Status: "ok"})
}

type feedSkeletonItem struct {
	Post string `json:"post"`
}

type feedSkeletonResp struct {
	Feed   []feedSkeletonItem `json:"feed"`
	Cursor string             `json:"cursor,omitempty"`
}

// handleGetFeedSkeleton serves app.bsky.feed.getFeedSkeleton. The feed
// parameter is an at-uri whose record key is the community id.
func (s *Server) handleGetFeedSkeleton(e echo.Context) error {
	feed := strings.TrimSpace(e.QueryParam("feed"))
	if feed == "" {
		return &echo.HTTPError{Code: 400, Message: "must pass a feed URI"}
	}
	id, ok := community.ParseGroupRef(feed)
	if !ok {
		return &echo.HTTPError{Code: 400, Message: "feed URI does not name a community"}
	}

	limit := 0
	if l := strings.TrimSpace(e.QueryParam("limit")); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil {
			return &echo.HTTPError{Code: 400, Message: "invalid value for 'limit'"}
		}
		limit = v
	}

	skel, err := s.mgr.GetFeedSkeleton(e.Request().Context(), id, limit, strings.TrimSpace(e.QueryParam("cursor")))
	if err != nil {
		return communityError(err)
	}
	feedRequests.Inc()

	resp := feedSkeletonResp{
		Feed:   make([]feedSkeletonItem, len(skel.Items)),
		Cursor: skel.Cursor,
	}
	for i, uri := range skel.Items {
		resp.Feed[i] = feedSkeletonItem{Post: uri}
	}
	return e.JSON(200, resp)
}

// communityError maps the actor error taxonomy onto HTTP codes.
func communityError(err error) error {
	var ve *community.ValidationError
	var pe *community.PermissionError
	var nf *community.NotFoundError
	var conflict community.Conflict
	switch {
	case errors.Is(err, community.ErrInvalidCursor), errors.As(err, &ve):
		return &echo.HTTPError{Code: 400, Message: err.Error()}
	case errors.As(err, &pe):
		return &echo.HTTPError{Code: 403, Message: err.Error()}
	case errors.As(err, &nf):
		return &echo.HTTPError{Code: 404, Message: err.Error()}
	case errors.As(err, &conflict):
		return &echo.HTTPError{Code: 409, Message: err.Error()}
	}
	return err
}

func (s *Server) RunAPI(listen string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		code := 500
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code >= 500 {
			s.logger.Warn("HTTP request error", "statusCode", code, "path", ctx.Path(), "err", err)
		}
		ctx.JSON(code, map[string]any{"error": http.StatusText(code)})
	}

	e.GET("/_health", s.handleHealthCheck)
	e.GET("/xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	s.echo = e

	s.logger.Info("starting feed API", "listen", listen)
	return e.Start(listen)
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// RunCleanup sweeps expired post index entries on an interval. Runs until
// ctx is canceled; a failed sweep is logged and retried next tick.
func (s *Server) RunCleanup(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.mgr.CleanupAll(ctx, window)
			if err != nil {
				s.logger.Error("retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("retention sweep complete", "removed", n)
			}
			postsExpired.Add(float64(n))
		}
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.echo == nil {
		return nil
	}
	return s.echo.Shutdown(ctx)
}

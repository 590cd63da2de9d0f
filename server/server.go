package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/bgremover/finalize"
	"github.com/chaos-io/bgremover/pipeline"
)

//go:embed templates/index.html
var templates embed.FS

const shutdownTimeout = 10 * time.Second

type Options struct {
	Addr          string
	Mode          string
	OutputsDir    string
	DefaultFormat string
	MaxUploadMB   int
}

type Server struct {
	opts     Options
	pipeline *pipeline.Pipeline
	engine   *gin.Engine
}

func New(p *pipeline.Pipeline, opts Options) *Server {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 32
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = string(finalize.FormatPNG)
	}

	s := &Server{opts: opts, pipeline: p}

	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())
	// parts beyond this spill to temp files, the request cap lives in inputImage
	engine.MaxMultipartMemory = int64(opts.MaxUploadMB) << 20
	engine.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/index.html")))

	engine.GET("/", s.index)
	engine.GET("/healthz", s.healthz)
	// only the outputs directory is exposed on disk
	engine.Static("/outputs", opts.OutputsDir)

	api := engine.Group("/api")
	api.GET("/formats", s.formats)
	api.POST("/remove", s.remove)

	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote_addr", c.ClientIP(),
		)
	}
}

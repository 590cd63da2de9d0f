package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/bgremover/errs"
	"github.com/chaos-io/bgremover/finalize"
	"github.com/chaos-io/bgremover/pipeline"
	"github.com/chaos-io/bgremover/util"
)

const previewQuality = 80

type removeResponse struct {
	ID          string           `json:"id"`
	Preview     string           `json:"preview"`
	DownloadURL string           `json:"download_url"`
	Filename    string           `json:"filename"`
	Format      string           `json:"format"`
	Fallback    bool             `json:"fallback"`
	Flops       string           `json:"flops"`
	Metrics     string           `json:"metrics"`
	Stages      []pipeline.Stage `json:"stages"`
}

type errorResponse struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Formats":       finalize.SupportedFormats,
		"DefaultFormat": strings.ToUpper(s.opts.DefaultFormat),
	})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) formats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"formats": finalize.SupportedFormats,
		"default": strings.ToUpper(s.opts.DefaultFormat),
	})
}

func (s *Server) remove(c *gin.Context) {
	id := ksuid.New().String()
	log := slog.With("request_id", id)

	img, err := s.inputImage(c)
	if err != nil {
		s.fail(c, id, err)
		return
	}

	format := c.DefaultPostForm("format", s.opts.DefaultFormat)
	rec := &pipeline.Recorder{}
	res, err := s.pipeline.Run(c.Request.Context(), pipeline.Request{
		ID:       id,
		Image:    img,
		Format:   format,
		Progress: rec,
	})
	if err != nil {
		s.fail(c, id, err)
		return
	}

	preview, err := previewDataURL(res.Preview)
	if err != nil {
		// the artifact is already written, a missing preview is not fatal
		log.Warn("encode preview", "error", err)
	}

	c.JSON(http.StatusOK, removeResponse{
		ID:          id,
		Preview:     preview,
		DownloadURL: "/outputs/" + res.Artifact.Name(),
		Filename:    res.Artifact.Name(),
		Format:      res.Artifact.Format.String(),
		Fallback:    res.Artifact.Fallback,
		Flops:       res.Flops,
		Metrics:     res.Report,
		Stages:      rec.Stages(),
	})
}

// inputImage takes the uploaded file. A missing file is an input error
// carrying the user prompt, a body over the upload cap is too_large.
func (s *Server) inputImage(c *gin.Context) (image.Image, error) {
	limit := int64(s.opts.MaxUploadMB) << 20
	if c.Request.ContentLength > limit {
		return nil, errs.New(errs.KindTooLarge, "server.inputImage",
			fmt.Sprintf("upload exceeds the %d MB limit", s.opts.MaxUploadMB))
	}
	// chunked bodies carry no length, the reader enforces the cap while parsing
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("image")
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.As(err, &tooLarge):
		return nil, errs.Wrap(errs.KindTooLarge, "server.inputImage",
			fmt.Sprintf("upload exceeds the %d MB limit", s.opts.MaxUploadMB), err)
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, errs.New(errs.KindInput, "server.inputImage", pipeline.NoImageMessage)
	default:
		return nil, errs.Wrap(errs.KindInput, "server.inputImage", "read form", err)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, errs.Wrap(errs.KindInput, "server.inputImage", "open upload", err)
	}
	defer func() {
		_ = f.Close()
	}()
	img, err := util.DecodeImage(f)
	if err != nil {
		return nil, errs.Wrap(errs.KindInput, "server.inputImage", "unreadable image", err)
	}
	return img, nil
}

func (s *Server) fail(c *gin.Context, id string, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	var e *errs.Error
	if errors.As(err, &e) && (kind == errs.KindInput || kind == errs.KindTooLarge) && e.Cause == nil {
		msg = e.Message
	}

	slog.Error("remove background failed", "request_id", id, "kind", kind, "status", status, "error", err)
	c.JSON(status, errorResponse{ID: id, Error: msg, Kind: string(kind)})
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInput, errs.KindUnsupportedFormat:
		return http.StatusBadRequest
	case errs.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case errs.KindModelInvocation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func previewDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: previewQuality}); err != nil {
		return "", fmt.Errorf("webp encode: %w", err)
	}
	return "data:image/webp;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

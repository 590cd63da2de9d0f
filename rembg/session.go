package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"mime/multipart"
	"strconv"
	"strings"
	"sync"

	"github.com/chaos-io/bgremover/util"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

const (
	U2NetModel = "u2net"
	removePath = "/api/remove"
)

var ErrSessionClosed = errors.New("inference session closed")

// Matting tunes alpha matting on the inference server.
type Matting struct {
	Enabled             bool
	ForegroundThreshold int
	BackgroundThreshold int
	ErodeSize           int
}

func DefaultMatting() Matting {
	return Matting{
		Enabled:             true,
		ForegroundThreshold: 240,
		BackgroundThreshold: 10,
		ErodeSize:           10,
	}
}

// Session is the long-lived handle on a rembg compatible inference server.
// It is created once at startup and shared by all requests; calls are
// serialized because the model session is not safe for parallel use.
type Session struct {
	mu     sync.Mutex
	closed bool

	baseURL string
	model   string
	matting Matting
	cli     nhttp.IClient
}

type Option func(*Session)

func WithModel(model string) Option {
	return func(s *Session) {
		if model != "" {
			s.model = model
		}
	}
}

func WithMatting(m Matting) Option {
	return func(s *Session) {
		s.matting = m
	}
}

func WithClient(cli nhttp.IClient) Option {
	return func(s *Session) {
		if cli != nil {
			s.cli = cli
		}
	}
}

func NewSession(baseURL string, opts ...Option) *Session {
	s := &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   U2NetModel,
		matting: DefaultMatting(),
		cli:     nhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Model() string {
	return s.model
}

func (s *Session) Remove(ctx context.Context, img image.Image, n Notifier) (image.Image, error) {
	if n == nil {
		n = Nop
	}

	n.Notify(0.3, "Preprocessing image...")
	body, contentType, err := s.form(img)
	if err != nil {
		return nil, newModelInvocationError(s.model, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, newModelInvocationError(s.model, ErrSessionClosed)
	}

	n.Notify(0.5, "Running U-2-Net inference (CPU)...")
	var raw []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.baseURL + removePath,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   &raw,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, newModelInvocationError(s.model, fmt.Errorf("do request: %w", err))
	}
	slog.Debug("get the response", "model", s.model, "size", len(raw), "content_type", reqParam.ResponseHeader["Content-Type"])

	n.Notify(0.8, "Post-processing mask...")
	out, err := util.DecodeImage(bytes.NewReader(raw))
	if err != nil {
		return nil, newModelInvocationError(s.model, err)
	}
	return out, nil
}

// Close tears the session down; later calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@my_image.png" \
	  -F "model=u2net" \
	  -F "a=true" -F "af=240" -F "ab=10" -F "ae=10" -o out.png
*/
func (s *Session) form(img image.Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "input.png")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, "", fmt.Errorf("encode form file: %w", err)
	}

	fields := [][2]string{
		{"model", s.model},
		{"a", strconv.FormatBool(s.matting.Enabled)},
	}
	if s.matting.Enabled {
		fields = append(fields,
			[2]string{"af", strconv.Itoa(s.matting.ForegroundThreshold)},
			[2]string{"ab", strconv.Itoa(s.matting.BackgroundThreshold)},
			[2]string{"ae", strconv.Itoa(s.matting.ErodeSize)},
		)
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

package http

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam describes one request. Body may be nil, an io.Reader, a []byte
// or any JSON-marshalable value. Response may be nil, a *[]byte for the raw
// body, or a pointer to decode JSON into.
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	// ResponseHeader is filled after a successful request.
	ResponseHeader map[string]string

	Timeout time.Duration
}

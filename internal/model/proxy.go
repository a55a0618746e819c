// Package model defines shared types for the gateway.
package model

import (
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	// Operation is the fixed upstream path suffix, e.g. "/chat/completions".
	Operation string
	Header    http.Header
	Body      []byte
}

// ProxyResponse represents the upstream response to be relayed back.
// Body is non-nil only when Streaming is true; buffered responses carry
// their bytes in Payload.
type ProxyResponse struct {
	StatusCode  int
	ContentType string
	Streaming   bool
	Payload     []byte
	Body        io.ReadCloser
	Provider    string
}

// Close releases the upstream connection held by a streaming response.
func (r *ProxyResponse) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

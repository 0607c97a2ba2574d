package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-call correlation ID. A replayed request keeps
// the ID of the original call.
const RequestIDHeader = "X-Request-ID"

// Doer executes a single HTTP request. *retry.Client from go-httpretry
// satisfies it, as does the adapter returned by HTTPDoer.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

type httpDoer struct {
	c *http.Client
}

// HTTPDoer adapts a plain *http.Client (no retries) to Doer.
func HTTPDoer(c *http.Client) Doer {
	return httpDoer{c: c}
}

func (d httpDoer) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.c.Do(req.WithContext(ctx))
}

// Transport sends outbound calls with the current bearer credential attached.
// The long-lived credential travels in the Doer's cookie jar.
type Transport struct {
	doer  Doer
	store *Store
}

// NewTransport returns a Transport reading credentials from store.
func NewTransport(doer Doer, store *Store) *Transport {
	return &Transport{doer: doer, store: store}
}

// Send dispatches req and reports which credential, if any, was attached.
// req itself is never modified, so the same request can be sent again.
func (t *Transport) Send(ctx context.Context, req *http.Request) (*http.Response, *Credential, error) {
	out := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		out.Body = body
	}
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}

	cred := t.store.Get()
	if cred != nil {
		cred.Token.SetAuthHeader(out)
	}

	resp, err := t.doer.DoWithContext(ctx, out)
	if err != nil {
		return nil, cred, err
	}
	return resp, cred, nil
}

// prepareReplayable returns a shallow copy of req whose body can be re-read
// and which carries a request ID.
func prepareReplayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		out.ContentLength = int64(len(data))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
		out.Body, _ = out.GetBody()
	}
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return out, nil
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

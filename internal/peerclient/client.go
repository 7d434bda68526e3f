// Package peerclient implements the outbound side of the wire protocol
// described in spec.md §4.7/§6: ping, fetch, peek, and store against
// remote peers. It shares a single connection pool across all outbound
// traffic, grounded on the teacher's internal/ha.Manager.pingPeer use of
// a shared *http.Client with a fixed timeout — here threaded through a
// context.Context per call so callers (internal/node.Node) can cancel
// outstanding requests on shutdown, per spec.md §5.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/indutny/naughtd/internal/membership"
	"github.com/indutny/naughtd/internal/naughterr"
)

// DefaultTimeout is the suggested per-request timeout from spec.md §4.7.
const DefaultTimeout = 5 * time.Second

// Client is stateless except for its shared HTTP transport.
type Client struct {
	httpClient *http.Client
	selfURI    string
	bearer     string
	timeout    time.Duration
}

// New creates a Client. selfURI is sent as x-naught-sender on every
// request; bearer is the Authorization header value for protected
// endpoints.
func New(selfURI, bearer string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
			},
		},
		selfURI: selfURI,
		bearer:  bearer,
		timeout: DefaultTimeout,
	}
}

// SetSelfURI updates the sender URI advertised on outbound requests,
// used once the node's effective bind address is known (spec.md §4.6's
// set_local_addr).
func (c *Client) SetSelfURI(uri string) {
	c.selfURI = uri
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Ping POSTs msg to peerURI/_ping and returns the peer's reciprocal Ping.
func (c *Client) Ping(ctx context.Context, peerURI string, msg membership.Ping) (*membership.Ping, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, naughterr.Internal("marshal ping: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURI+"/_ping", bytes.NewReader(body))
	if err != nil {
		return nil, naughterr.PingFailed(peerURI, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.bearer)
	req.Header.Set("x-naught-sender", c.selfURI)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, naughterr.PingFailed(peerURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, naughterr.PingFailed(peerURI, fmt.Errorf("status %d", resp.StatusCode))
	}

	var reply membership.Ping
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, naughterr.PingFailed(peerURI, err)
	}
	return &reply, nil
}

// FetchResult is a streamed remote container file.
type FetchResult struct {
	Mime string
	Body io.ReadCloser
}

// cancelOnClose releases a request's timeout context once its streamed
// body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Fetch GETs {peerURI}/{subURI} with Host set to containerID, asking
// the peer not to redirect further (x-naught-redirect: false).
func (c *Client) Fetch(ctx context.Context, peerURI, containerID, subURI string) (*FetchResult, error) {
	ctx, cancel := c.withTimeout(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peerURI+"/"+subURI, nil)
	if err != nil {
		cancel()
		return nil, naughterr.NotFound("fetch request: %v", err)
	}
	req.Host = containerID
	req.Header.Set("x-naught-sender", c.selfURI)
	req.Header.Set("x-naught-redirect", "false")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, naughterr.NotFound("fetch %s from %s: %v", subURI, peerURI, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, naughterr.NotFound("fetch %s from %s: status %d", subURI, peerURI, resp.StatusCode)
	}

	return &FetchResult{Mime: resp.Header.Get("Content-Type"), Body: cancelOnClose{resp.Body, cancel}}, nil
}

// Peek issues a HEAD against peerURI with Host=containerID to probe for
// presence without transferring the blob.
func (c *Client) Peek(ctx context.Context, peerURI, containerID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, peerURI+"/", nil)
	if err != nil {
		return naughterr.StoreFailed(peerURI, err)
	}
	req.Host = containerID
	req.Header.Set("x-naught-sender", c.selfURI)
	req.Header.Set("x-naught-redirect", "false")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return naughterr.StoreFailed(peerURI, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return naughterr.StoreFailed(peerURI, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// Store PUTs blob to peerURI/_container.
func (c *Client) Store(ctx context.Context, peerURI string, blob []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, peerURI+"/_container", bytes.NewReader(blob))
	if err != nil {
		return naughterr.StoreFailed(peerURI, err)
	}
	req.Header.Set("Authorization", c.bearer)
	req.Header.Set("x-naught-sender", c.selfURI)
	req.Header.Set("x-naught-redirect", "false")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return naughterr.StoreFailed(peerURI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return naughterr.StoreFailed(peerURI, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// PeekThenStore is the replication primitive of spec.md §4.5: probe for
// presence, and only push the blob if the peer does not already have
// it.
func (c *Client) PeekThenStore(ctx context.Context, peerURI, containerID string, blob []byte) error {
	if err := c.Peek(ctx, peerURI, containerID); err == nil {
		return nil
	}
	return c.Store(ctx, peerURI, blob)
}

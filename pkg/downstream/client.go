// Package downstream calls the lift ride write endpoint and sorts its
// answers into the pipeline's retry classes.
package downstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/siqueiraa/LiftFlow/pkg/model"
	"github.com/siqueiraa/LiftFlow/pkg/pipeline"
	"github.com/siqueiraa/LiftFlow/pkg/worker"
)

const (
	maxErrorBody   = 512 // bytes of a rejection body kept in the error
	healthPath     = "/health"
	defaultTimeout = 5 * time.Second
)

var json = jsoniter.ConfigFastest

// Client posts lift rides to one server.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for server (scheme://host[:port]). A nil
// transport uses http.DefaultTransport.
func NewClient(server string, timeout time.Duration, transport http.RoundTripper) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q needs a scheme and host", server)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// RidePath is the write route for ev.
func RidePath(ev model.LiftRideEvent) string {
	return "/skiers/" + strconv.Itoa(ev.ResortID) +
		"/seasons/" + url.PathEscape(ev.SeasonID) +
		"/days/" + url.PathEscape(ev.DayID) +
		"/skiers/" + strconv.Itoa(ev.SkierID)
}

// Handle writes one ride. 2xx is success, 4xx a PermanentRejection, any
// other status a TransientRemoteError and transport failures a
// ConnectivityError.
func (c *Client) Handle(ctx context.Context, ev model.LiftRideEvent) error {
	body, err := json.Marshal(ev.LiftRide)
	if err != nil {
		return &pipeline.PermanentRejection{Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+RidePath(ev), bytes.NewReader(body))
	if err != nil {
		return &pipeline.PermanentRejection{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return pipeline.ErrShutdown
		}
		return &pipeline.ConnectivityError{Err: err}
	}
	defer resp.Body.Close()
	return classify(resp)
}

func classify(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &pipeline.PermanentRejection{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &pipeline.TransientRemoteError{Status: resp.StatusCode}
	}
}

// Ping checks that the server accepts connections. Any HTTP answer counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &pipeline.ConnectivityError{Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Connector gives every worker its own client over one shared transport,
// pinging the server first. A worker that cannot connect exits.
func Connector(server string, timeout time.Duration, maxConns int) worker.Connector[model.LiftRideEvent] {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = maxConns
	transport.MaxIdleConnsPerHost = maxConns

	return func(ctx context.Context, ordinal int) (worker.Handler[model.LiftRideEvent], error) {
		c, err := NewClient(server, timeout, transport)
		if err != nil {
			return nil, err
		}
		if err := c.Ping(ctx); err != nil {
			return nil, fmt.Errorf("worker %d: %w", ordinal, err)
		}
		return c, nil
	}
}

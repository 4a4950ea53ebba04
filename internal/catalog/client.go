// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog resolves track ids against a NetEase-compatible music
// API. Lookups are rate limited, guarded by a circuit breaker, cached and
// deduplicated.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ManuGH/playd/internal/cache"
	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/metrics"
	"github.com/ManuGH/playd/internal/platform/httpx"
	platformnet "github.com/ManuGH/playd/internal/platform/net"
	"github.com/ManuGH/playd/internal/resilience"
	"github.com/ManuGH/playd/internal/telemetry"
)

const (
	endpointDetail = "song_detail"
	endpointURL    = "song_url"

	maxResponseBytes = 1 << 20
)

var (
	// ErrUpstream wraps transport failures and non-200 answers.
	ErrUpstream = errors.New("catalog upstream failure")
	// ErrNotConfigured is returned when no base URL is set.
	ErrNotConfigured = errors.New("catalog base url not configured")
	// ErrInvalidID rejects ids that are not plain tokens.
	ErrInvalidID = errors.New("invalid track id")
)

// Config tunes the client.
type Config struct {
	BaseURL          string
	RPS              float64
	Burst            int
	BreakerThreshold int
	BreakerReset     time.Duration
	CacheTTL         time.Duration
}

// Client implements ports.Resolver.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	cache   cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// New builds a client. A nil cache disables caching and a nil httpClient
// gets a traced default.
func New(cfg Config, httpClient *http.Client, c cache.Cache) *Client {
	if httpClient == nil {
		httpClient = httpx.NewClient("catalog", 0)
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RPS))
	}
	if c == nil {
		c = cache.NoOp{}
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: resilience.NewCircuitBreaker("catalog", cfg.BreakerThreshold, cfg.BreakerReset,
			resilience.WithFailurePredicate(func(err error) bool { return errors.Is(err, ErrUpstream) })),
		cache:  c,
		ttl:    cfg.CacheTTL,
		tracer: telemetry.Tracer("playd.catalog"),
		logger: log.WithComponent("catalog"),
	}
}

type detailResponse struct {
	Songs []struct {
		Name string `json:"name"`
	} `json:"songs"`
}

type urlResponse struct {
	Data []struct {
		URL *string `json:"url"`
	} `json:"data"`
}

// ResolveName returns the track title, or "" when the catalog has no such
// track.
func (c *Client) ResolveName(ctx context.Context, id string) (string, error) {
	return c.lookup(ctx, endpointDetail, id, func(ctx context.Context) (string, error) {
		var body detailResponse
		if err := c.get(ctx, "/song/detail", url.Values{"ids": {id}}, &body); err != nil {
			return "", err
		}
		if len(body.Songs) == 0 {
			return "", nil
		}
		return body.Songs[0].Name, nil
	})
}

// ResolveURL returns a playable URL, or "" when the track exists but is
// not playable right now.
func (c *Client) ResolveURL(ctx context.Context, id string) (string, error) {
	return c.lookup(ctx, endpointURL, id, func(ctx context.Context) (string, error) {
		var body urlResponse
		if err := c.get(ctx, "/song/url", url.Values{"id": {id}}, &body); err != nil {
			return "", err
		}
		if len(body.Data) == 0 || body.Data[0].URL == nil {
			return "", nil
		}
		return *body.Data[0].URL, nil
	})
}

// lookup serves from cache, collapses concurrent identical lookups and
// caches only non-empty answers.
func (c *Client) lookup(ctx context.Context, endpoint, id string, fetch func(context.Context) (string, error)) (string, error) {
	if c.base == "" {
		return "", ErrNotConfigured
	}
	if !validID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	ctx, span := c.tracer.Start(ctx, "catalog."+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(telemetry.CatalogAttributes(endpoint, id)...)
	defer span.End()

	key := endpoint + ":" + id
	if v, ok := c.cache.Get(ctx, key); ok {
		metrics.IncCatalogRequest(endpoint, "cache_hit")
		span.SetAttributes(attribute.String(telemetry.CatalogCacheKey, "hit"))
		return v, nil
	}
	span.SetAttributes(attribute.String(telemetry.CatalogCacheKey, "miss"))

	ch := c.group.DoChan(key, func() (any, error) {
		// Detached so one canceled caller does not fail the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.http.Timeout+time.Second)
		defer cancel()

		var v string
		err := c.breaker.Execute(fctx, func(ctx context.Context) error {
			var err error
			v, err = fetch(ctx)
			return err
		})
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			metrics.IncCatalogRequest(endpoint, "circuit_open")
			return "", fmt.Errorf("%w: %v", ErrUpstream, err)
		case err != nil:
			metrics.IncCatalogRequest(endpoint, "error")
			return "", err
		case v == "":
			metrics.IncCatalogRequest(endpoint, "empty")
		default:
			metrics.IncCatalogRequest(endpoint, "ok")
			if c.ttl > 0 {
				c.cache.Set(fctx, key, v, c.ttl)
			}
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, ctx.Err().Error())
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			c.logger.Warn().Err(res.Err).Str(log.FieldEvent, "catalog.lookup_failed").
				Str("endpoint", endpoint).Str(log.FieldTrackID, id).Msg("catalog lookup failed")
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.base + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, platformnet.SanitizeURL(u), resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	return nil
}

// validID accepts short tokens of letters, digits, '-' and '_'.
func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }

var _ ports.Resolver = (*Client)(nil)

package riot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/riftlab/matchforge/internal/metrics"
	"github.com/riftlab/matchforge/internal/pipeline"
)

// Upstream cooldown applied when a 429 arrives without a Retry-After
// header. Policy of the remote service, kept as a fallback only.
const defaultRetryAfter = 2 * time.Second

// Config controls Client behavior.
type Config struct {
	APIKey            string
	Region            string
	RoutingRegion     string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration

	// Base URL overrides, primarily for testing. When empty the standard
	// per-region API hosts are used.
	PlatformBaseURL string
	RoutingBaseURL  string
}

// Client is the sole rate gate for all remote API traffic. It
// self-throttles against the configured quota and converts upstream
// failures into the pipeline error taxonomy.
type Client struct {
	cfg     Config
	http    *fasthttp.Client
	limiter *rate.Limiter
	gate    *cooldownGate
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Client{
		cfg: cfg,
		http: &fasthttp.Client{
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
		limiter: rate.NewLimiter(limit, burst),
		gate:    &cooldownGate{},
		logger:  logger,
	}
}

func (c *Client) platformBase() string {
	if c.cfg.PlatformBaseURL != "" {
		return c.cfg.PlatformBaseURL
	}
	return fmt.Sprintf("https://%s.api.riotgames.com", c.cfg.Region)
}

func (c *Client) routingBase() string {
	if c.cfg.RoutingBaseURL != "" {
		return c.cfg.RoutingBaseURL
	}
	return fmt.Sprintf("https://%s.api.riotgames.com", c.cfg.RoutingRegion)
}

// ListLadderPlayers returns the players of a ranked ladder tier
// (challenger, grandmaster or master), used for frontier seeding.
func (c *Client) ListLadderPlayers(ctx context.Context, tier string) ([]pipeline.PlayerRef, error) {
	url := fmt.Sprintf("%s/lol/league/v4/%sleagues/by-queue/RANKED_SOLO_5x5", c.platformBase(), tier)
	body, err := c.get(ctx, "ladder", url)
	if err != nil {
		return nil, err
	}
	var league leagueListDTO
	if err := json.Unmarshal(body, &league); err != nil {
		return nil, fmt.Errorf("decode ladder response: %w", err)
	}
	players := make([]pipeline.PlayerRef, 0, len(league.Entries))
	seen := make(map[string]struct{}, len(league.Entries))
	for _, e := range league.Entries {
		if e.PUUID == "" {
			continue
		}
		if _, dup := seen[e.PUUID]; dup {
			continue
		}
		seen[e.PUUID] = struct{}{}
		players = append(players, pipeline.PlayerRef{PUUID: e.PUUID, Region: c.cfg.Region})
	}
	return players, nil
}

// ListMatchIDs returns up to count recent match refs for a player within
// the recency window. An empty list is a valid result, not an error.
func (c *Client) ListMatchIDs(ctx context.Context, player pipeline.PlayerRef, window time.Duration, count int) ([]pipeline.MatchRef, error) {
	url := fmt.Sprintf("%s/lol/match/v5/matches/by-puuid/%s/ids?count=%d", c.routingBase(), player.PUUID, count)
	if window > 0 {
		url += fmt.Sprintf("&startTime=%d", time.Now().Add(-window).Unix())
	}
	body, err := c.get(ctx, "match_ids", url)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("decode match id list: %w", err)
	}
	refs := make([]pipeline.MatchRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, pipeline.MatchRef{ID: id, Region: player.Region})
	}
	return refs, nil
}

// FetchMatch retrieves full match detail and maps it into a MatchRecord,
// keeping the raw payload verbatim.
func (c *Client) FetchMatch(ctx context.Context, ref pipeline.MatchRef) (pipeline.MatchRecord, error) {
	url := fmt.Sprintf("%s/lol/match/v5/matches/%s", c.routingBase(), ref.ID)
	body, err := c.get(ctx, "match_detail", url)
	if err != nil {
		return pipeline.MatchRecord{}, err
	}
	record, err := mapMatch(ref, body, time.Now().UTC())
	if err != nil {
		return pipeline.MatchRecord{}, err
	}
	return record, nil
}

// get performs one throttled request and maps the response status into
// the pipeline error taxonomy.
func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if err := c.gate.wait(ctx); err != nil {
		return nil, fmt.Errorf("cooldown wait: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("X-Riot-Token", c.cfg.APIKey)

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.cfg.Timeout)
	}
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveFetch(endpoint, "network_error", elapsed)
		return nil, &pipeline.TransientError{Err: fmt.Errorf("do request: %w", err)}
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK:
		metrics.ObserveFetch(endpoint, "ok", elapsed)
		body := make([]byte, len(resp.Body()))
		copy(body, resp.Body())
		return body, nil
	case status == fasthttp.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp)
		c.gate.trip(retryAfter)
		metrics.ObserveFetch(endpoint, "rate_limited", elapsed)
		c.logger.Warn("upstream rate limit hit",
			zap.String("endpoint", endpoint),
			zap.Duration("retry_after", retryAfter),
		)
		return nil, &pipeline.RateLimitedError{RetryAfter: retryAfter}
	case status == fasthttp.StatusNotFound:
		metrics.ObserveFetch(endpoint, "not_found", elapsed)
		return nil, fmt.Errorf("%s: %w", url, pipeline.ErrNotFound)
	default:
		metrics.ObserveFetch(endpoint, "upstream_error", elapsed)
		return nil, &pipeline.TransientError{Status: status}
	}
}

func parseRetryAfter(resp *fasthttp.Response) time.Duration {
	raw := string(resp.Header.Peek("Retry-After"))
	if raw == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

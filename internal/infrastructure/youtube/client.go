package youtube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"StatVid/internal/domain"
	"StatVid/internal/ports"
)

const (
	// DefaultBaseURL is the public Data API v3 endpoint.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"
	// MaxIDsPerRequest is the videos.list id limit.
	MaxIDsPerRequest = 50

	videoParts  = "snippet,statistics,contentDetails"
	maxBodySize = 16 << 20
)

// Config tunes the client. Zero values fall back to sensible defaults.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	Backoff           time.Duration
	RequestsPerSecond float64
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
}

// Client talks to the YouTube Data API v3 over plain HTTPS.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	recorder   ports.RunRecorder
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ ports.CatalogClient = (*Client)(nil)

// NewClient wires an HTTP client, pacing and a circuit breaker around the API.
func NewClient(cfg Config, httpClient *http.Client, recorder ports.RunRecorder, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if recorder == nil {
		recorder = ports.NopRecorder{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		http:       httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		limiter:    rate.NewLimiter(limit, 1),
		recorder:   recorder,
		logger:     logger,
		sleep:      sleepContext,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "youtube-api",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Only transient upstream trouble counts; a rejected request says nothing about API health.
		IsSuccessful: func(err error) bool {
			var transient *domain.TransientFetchError
			return !errors.As(err, &transient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type listResponse struct {
	NextPageToken string            `json:"nextPageToken"`
	Items         []json.RawMessage `json:"items"`
}

// FetchVideos returns the videos.list items for at most MaxIDsPerRequest ids.
// Ids the API does not know are simply absent from the result.
func (c *Client) FetchVideos(ctx context.Context, ids []string) ([]json.RawMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxIDsPerRequest {
		return nil, fmt.Errorf("videos.list accepts at most %d ids, got %d", MaxIDsPerRequest, len(ids))
	}
	params := url.Values{}
	params.Set("part", videoParts)
	params.Set("id", strings.Join(ids, ","))
	params.Set("maxResults", strconv.Itoa(MaxIDsPerRequest))

	var resp listResponse
	if err := c.getJSON(ctx, "videos", params, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// SearchVideos runs one page of search.list restricted to videos.
func (c *Client) SearchVideos(ctx context.Context, params url.Values, pageToken string) ([]string, string, error) {
	q := cloneValues(params)
	q.Set("part", "id")
	q.Set("type", "video")
	q.Set("maxResults", strconv.Itoa(MaxIDsPerRequest))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var resp struct {
		NextPageToken string `json:"nextPageToken"`
		Items         []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "search", q, &resp); err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		ids = append(ids, it.ID.VideoID)
	}
	return ids, resp.NextPageToken, nil
}

// UploadsPlaylist resolves the uploads playlist of a channel.
func (c *Client) UploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("id", channelID)

	var resp struct {
		Items []struct {
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "channels", params, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", fmt.Errorf("channel %s has no uploads playlist", channelID)
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// PlaylistVideos returns one page of video ids from a playlist.
func (c *Client) PlaylistVideos(ctx context.Context, playlistID, pageToken string) ([]string, string, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("playlistId", playlistID)
	params.Set("maxResults", strconv.Itoa(MaxIDsPerRequest))
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var resp struct {
		NextPageToken string `json:"nextPageToken"`
		Items         []struct {
			ContentDetails struct {
				VideoID string `json:"videoId"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "playlistItems", params, &resp); err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		ids = append(ids, it.ContentDetails.VideoID)
	}
	return ids, resp.NextPageToken, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, dst any) error {
	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// get performs one logical request, retrying transient failures with exponential backoff.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, endpoint, params)
		})
		if err == nil {
			c.recorder.APIRequest(endpoint, "ok")
			return body, nil
		}

		var transient *domain.TransientFetchError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.recorder.APIRequest(endpoint, "breaker_open")
			return nil, fmt.Errorf("%s: %w", endpoint, err)
		case errors.Is(err, domain.ErrQuotaExceeded):
			c.recorder.APIRequest(endpoint, "quota")
			return nil, err
		case !errors.As(err, &transient):
			c.recorder.APIRequest(endpoint, "error")
			return nil, err
		}

		c.recorder.APIRequest(endpoint, "transient")
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("%s: giving up after %d attempts: %w", endpoint, attempt+1, err)
		}
		wait := c.backoff<<attempt + time.Duration(rand.Int64N(int64(c.backoff)))
		c.logger.Debug("retrying catalog request", "endpoint", endpoint, "attempt", attempt+1, "wait", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := cloneValues(params)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	reqURL := c.baseURL + "/" + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "StatVid/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TransientFetchError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &domain.TransientFetchError{Op: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	return nil, classify(endpoint, resp, body)
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// classify maps a non-200 response onto the error taxonomy.
func classify(endpoint string, resp *http.Response, body []byte) error {
	status := resp.StatusCode
	message, reason := describeBody(resp.Header.Get("Content-Type"), body)
	if message == "" {
		message = resp.Status
	}
	cause := errors.New(message)

	switch {
	case status == http.StatusForbidden && (reason == "quotaExceeded" || reason == "dailyLimitExceeded"):
		return fmt.Errorf("%s: %s: %w", endpoint, message, domain.ErrQuotaExceeded)
	case status == http.StatusForbidden && (reason == "rateLimitExceeded" || reason == "userRateLimitExceeded"),
		status == http.StatusTooManyRequests,
		status == http.StatusInternalServerError,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return &domain.TransientFetchError{Op: endpoint, Status: status, Err: cause}
	}
	if reason != "" {
		return fmt.Errorf("%s: status %d (%s): %s", endpoint, status, reason, message)
	}
	return fmt.Errorf("%s: status %d: %s", endpoint, status, message)
}

// describeBody extracts a human-readable message and the first error reason.
// Google front ends answer some failures with an HTML page; its title is the useful part.
func describeBody(contentType string, body []byte) (string, string) {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Error.Message != "" || parsed.Error.Code != 0) {
		reason := ""
		if len(parsed.Error.Errors) > 0 {
			reason = parsed.Error.Errors[0].Reason
		}
		return parsed.Error.Message, reason
	}

	if strings.Contains(contentType, "html") || bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return title, ""
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text, ""
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+4)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

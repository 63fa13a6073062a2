package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StatVid/internal/domain"
	"StatVid/internal/query"
)

type countingRecorder struct {
	outcomes []string
}

func (r *countingRecorder) APIRequest(endpoint, outcome string) {
	r.outcomes = append(r.outcomes, endpoint+":"+outcome)
}
func (r *countingRecorder) RecordsAppended(int) {}
func (r *countingRecorder) RecordSkipped(string) {}
func (r *countingRecorder) RowsExcluded(string, int) {}
func (r *countingRecorder) StageFinished(domain.Stage, float64, error) {}

func newTestClient(t *testing.T, handler http.Handler, rec *countingRecorder) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL, APIKey: "k", MaxRetries: 2, Backoff: time.Millisecond}
	var c *Client
	if rec != nil {
		c = NewClient(cfg, srv.Client(), rec, nil)
	} else {
		c = NewClient(cfg, srv.Client(), nil, nil)
	}
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestFetchVideos(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, videoParts, r.URL.Query().Get("part"))
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		var items []string
		for _, id := range ids {
			items = append(items, fmt.Sprintf(`{"id":%q}`, id))
		}
		fmt.Fprintf(w, `{"items":[%s]}`, strings.Join(items, ","))
	})
	c := newTestClient(t, handler, nil)

	items, err := c.FetchVideos(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"id":"b"}`, string(items[1]))

	_, err = c.FetchVideos(context.Background(), make([]string, MaxIDsPerRequest+1))
	require.Error(t, err)
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"code":403,"message":"slow down","errors":[{"reason":"rateLimitExceeded"}]}}`)
		default:
			fmt.Fprint(w, `{"items":[{"id":"a"}]}`)
		}
	})
	rec := &countingRecorder{}
	c := newTestClient(t, handler, rec)

	items, err := c.FetchVideos(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"videos:transient", "videos:transient", "videos:ok"}, rec.outcomes)
}

func TestGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, handler, nil)

	_, err := c.FetchVideos(context.Background(), []string{"a"})
	var transient *domain.TransientFetchError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusBadGateway, transient.Status)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
}

func TestQuotaExceededIsFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`)
	})
	c := newTestClient(t, handler, nil)

	_, err := c.FetchVideos(context.Background(), []string{"a"})
	require.True(t, errors.Is(err, domain.ErrQuotaExceeded))
	assert.Equal(t, int32(1), calls.Load(), "quota errors are not retried")
}

func TestBreakerIgnoresRejectedRequests(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"code":400,"message":"invalid channel","errors":[{"reason":"invalidChannelId"}]}}`)
			return
		}
		fmt.Fprint(w, `{"items":[{"contentDetails":{"relatedPlaylists":{"uploads":"UU1"}}}]}`)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", BreakerFailures: 2, Backoff: time.Millisecond}, srv.Client(), nil, nil)

	for i := 0; i < 4; i++ {
		_, err := c.UploadsPlaylist(context.Background(), "bad")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalidChannelId")
	}
	playlist, err := c.UploadsPlaylist(context.Background(), "good")
	require.NoError(t, err, "client errors must not open the breaker")
	assert.Equal(t, "UU1", playlist)
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", MaxRetries: 5, BreakerFailures: 2, Backoff: time.Millisecond}, srv.Client(), nil, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.UploadsPlaylist(context.Background(), "UC1")
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTMLErrorPageTitle(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<html><head><title>Error 404 (Not Found)!!1</title></head><body><p>gone</p></body></html>`)
	})
	c := newTestClient(t, handler, nil)

	_, err := c.FetchVideos(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error 404 (Not Found)!!1")
	var transient *domain.TransientFetchError
	assert.False(t, errors.As(err, &transient))
}

func TestCategoryResolverPaginates(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "28", q.Get("videoCategoryId"))
		assert.Equal(t, "video", q.Get("type"))
		switch q.Get("pageToken") {
		case "":
			fmt.Fprint(w, `{"nextPageToken":"p2","items":[{"id":{"videoId":"a"}},{"id":{"videoId":"b"}}]}`)
		case "p2":
			fmt.Fprint(w, `{"nextPageToken":"p3","items":[{"id":{"videoId":"b"}},{"id":{"videoId":"c"}}]}`)
		default:
			fmt.Fprint(w, `{"items":[{"id":{"videoId":"d"}}]}`)
		}
	})
	c := newTestClient(t, handler, nil)
	reg := query.NewRegistry()
	RegisterResolvers(reg, c)

	res, err := reg.Resolve(query.KindCategory)
	require.NoError(t, err)

	ids, err := res.Resolve(context.Background(), query.Query{Kind: query.KindCategory, Params: map[string]string{"categoryId": "28"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)

	ids, err = res.Resolve(context.Background(), query.Query{Kind: query.KindCategory, Params: map[string]string{"categoryId": "28"}, MaxItems: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	ids, err = res.Resolve(context.Background(), query.Query{Kind: query.KindCategory, Params: map[string]string{"categoryId": "28", "maxPages": "1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestChannelResolver(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels":
			assert.Equal(t, "UC1", r.URL.Query().Get("id"))
			fmt.Fprint(w, `{"items":[{"contentDetails":{"relatedPlaylists":{"uploads":"UU1"}}}]}`)
		case "/playlistItems":
			assert.Equal(t, "UU1", r.URL.Query().Get("playlistId"))
			fmt.Fprint(w, `{"items":[{"contentDetails":{"videoId":"x"}},{"contentDetails":{"videoId":"y"}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	c := newTestClient(t, handler, nil)

	ids, err := (&ChannelResolver{client: c}).Resolve(context.Background(),
		query.Query{Kind: query.KindChannel, Params: map[string]string{"channelId": "UC1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids)
}

func TestVideoIDResolver(t *testing.T) {
	t.Parallel()

	q, err := query.Parse("videos:a, b,a,,c")
	require.NoError(t, err)
	q.MaxItems = 2
	ids, err := VideoIDResolver{}.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

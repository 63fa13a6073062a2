package youtube

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"StatVid/internal/query"
)

const defaultMaxPages = 5

// RegisterResolvers installs the catalog-backed query strategies.
func RegisterResolvers(reg *query.Registry, client *Client) {
	reg.Register(&CategoryResolver{client: client})
	reg.Register(&ChannelResolver{client: client})
	reg.Register(VideoIDResolver{})
}

// CategoryResolver pages through search.list for one video category.
type CategoryResolver struct {
	client *Client
}

func (r *CategoryResolver) Kind() string { return query.KindCategory }

// Resolve walks result pages until the API runs out, maxPages is hit or MaxItems ids are collected.
func (r *CategoryResolver) Resolve(ctx context.Context, q query.Query) ([]string, error) {
	category := q.Param("categoryId", "")
	if category == "" {
		return nil, fmt.Errorf("query %s: categoryId is required", q.Label())
	}
	maxPages, err := strconv.Atoi(q.Param("maxPages", strconv.Itoa(defaultMaxPages)))
	if err != nil || maxPages < 1 {
		return nil, fmt.Errorf("query %s: maxPages must be a positive integer", q.Label())
	}

	params := url.Values{}
	params.Set("videoCategoryId", category)
	params.Set("regionCode", q.Param("regionCode", "US"))
	params.Set("order", q.Param("order", "viewCount"))
	if after := q.Param("publishedAfter", ""); after != "" {
		if _, err := time.Parse(time.RFC3339, after); err != nil {
			return nil, fmt.Errorf("query %s: publishedAfter must be RFC3339: %w", q.Label(), err)
		}
		params.Set("publishedAfter", after)
	}
	if lang := q.Param("relevanceLanguage", ""); lang != "" {
		params.Set("relevanceLanguage", lang)
	}

	var (
		ids   []string
		seen  = map[string]struct{}{}
		token string
	)
	for page := 0; page < maxPages; page++ {
		pageIDs, next, err := r.client.SearchVideos(ctx, params, token)
		if err != nil {
			return ids, fmt.Errorf("query %s page %d: %w", q.Label(), page+1, err)
		}
		var full bool
		ids, full = query.Collect(ids, seen, pageIDs, q.MaxItems)
		if full || next == "" {
			break
		}
		token = next
	}
	return ids, nil
}

// ChannelResolver lists a channel's uploads playlist.
type ChannelResolver struct {
	client *Client
}

func (r *ChannelResolver) Kind() string { return query.KindChannel }

func (r *ChannelResolver) Resolve(ctx context.Context, q query.Query) ([]string, error) {
	channel := q.Param("channelId", "")
	if channel == "" {
		return nil, fmt.Errorf("query %s: channelId is required", q.Label())
	}
	maxPages, err := strconv.Atoi(q.Param("maxPages", strconv.Itoa(defaultMaxPages)))
	if err != nil || maxPages < 1 {
		return nil, fmt.Errorf("query %s: maxPages must be a positive integer", q.Label())
	}

	playlist, err := r.client.UploadsPlaylist(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Label(), err)
	}

	var (
		ids   []string
		seen  = map[string]struct{}{}
		token string
	)
	for page := 0; page < maxPages; page++ {
		pageIDs, next, err := r.client.PlaylistVideos(ctx, playlist, token)
		if err != nil {
			return ids, fmt.Errorf("query %s page %d: %w", q.Label(), page+1, err)
		}
		var full bool
		ids, full = query.Collect(ids, seen, pageIDs, q.MaxItems)
		if full || next == "" {
			break
		}
		token = next
	}
	return ids, nil
}

// VideoIDResolver passes explicitly listed ids through without an API call.
type VideoIDResolver struct{}

func (VideoIDResolver) Kind() string { return query.KindVideos }

func (VideoIDResolver) Resolve(_ context.Context, q query.Query) ([]string, error) {
	raw := q.Param("ids", "")
	if raw == "" {
		return nil, fmt.Errorf("query %s: ids are required", q.Label())
	}
	ids, _ := query.Collect(nil, map[string]struct{}{}, strings.Split(raw, ","), q.MaxItems)
	return ids, nil
}

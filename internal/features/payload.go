package features

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Video mirrors the parts of a videos.list item the pipeline reads.
type Video struct {
	ID      string `json:"id"`
	Snippet struct {
		PublishedAt string   `json:"publishedAt"`
		ChannelID   string   `json:"channelId"`
		Title       string   `json:"title"`
		Tags        []string `json:"tags"`
		CategoryID  string   `json:"categoryId"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration   string `json:"duration"`
		Definition string `json:"definition"`
		Caption    string `json:"caption"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics"`
}

// DecodeVideo parses a raw payload.
func DecodeVideo(payload string) (Video, error) {
	var v Video
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return Video{}, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// PublishedAt parses snippet.publishedAt as RFC 3339.
func (v Video) PublishedAt() (time.Time, error) {
	if strings.TrimSpace(v.Snippet.PublishedAt) == "" {
		return time.Time{}, fmt.Errorf("missing publishedAt")
	}
	t, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse publishedAt: %w", err)
	}
	return t.UTC(), nil
}

// Count parses a statistics counter; an absent counter is nil (hidden likes, disabled comments).
func Count(value string) (*int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse counter %q: %w", value, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("negative counter %d", n)
	}
	return &n, nil
}

package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	ttQueryTimeout   = 15 * time.Second
	ttPublishTimeout = 120 * time.Second
)

// TiktokClient is the single-call analytics family: one video/query request
// returns every metric.
type TiktokClient struct {
	baseURL string
}

func NewTiktokClient(baseURL string) *TiktokClient {
	return &TiktokClient{baseURL: strings.TrimRight(baseURL, "/")}
}

type ttError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ttError) ok() bool {
	return e == nil || e.Code == "" || e.Code == "ok"
}

func (t *TiktokClient) Publish(ctx context.Context, openID string, content *PostContent, accessToken string) (string, error) {
	var videoURL string
	for _, m := range content.Media {
		if m.Type == "video" {
			videoURL = m.URL
			break
		}
	}
	if videoURL == "" {
		return "", errors.New("tiktok publish requires a video")
	}

	payload := map[string]any{
		"post_info": map[string]any{
			"title":         content.Caption,
			"privacy_level": "PUBLIC_TO_EVERYONE",
		},
		"source_info": map[string]any{
			"source":    "PULL_FROM_URL",
			"video_url": videoURL,
		},
	}

	body, err := t.post(ctx, t.baseURL+"/post/publish/video/init/", accessToken, payload, ttPublishTimeout)
	if err != nil {
		return "", err
	}

	var result struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
		Error *ttError `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("failed to decode publish response: %w", err)
	}
	if !result.Error.ok() {
		return "", fmt.Errorf("tiktok error %s: %s", result.Error.Code, result.Error.Message)
	}
	if result.Data.PublishID == "" {
		return "", errors.New("tiktok publish returned no publish id")
	}

	return result.Data.PublishID, nil
}

func (t *TiktokClient) FetchInsights(ctx context.Context, platformPostID, accessToken string) (*Metrics, error) {
	endpoint := t.baseURL + "/video/query/?fields=id,like_count,comment_count,share_count,view_count"
	payload := map[string]any{
		"filters": map[string]any{
			"video_ids": []string{platformPostID},
		},
	}

	body, err := t.post(ctx, endpoint, accessToken, payload, ttQueryTimeout)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data struct {
			Videos []struct {
				ID           string `json:"id"`
				LikeCount    int64  `json:"like_count"`
				CommentCount int64  `json:"comment_count"`
				ShareCount   int64  `json:"share_count"`
				ViewCount    int64  `json:"view_count"`
			} `json:"videos"`
		} `json:"data"`
		Error *ttError `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode video query response: %w", err)
	}
	if !result.Error.ok() {
		return nil, fmt.Errorf("tiktok error %s: %s", result.Error.Code, result.Error.Message)
	}
	if len(result.Data.Videos) == 0 {
		return nil, fmt.Errorf("tiktok video %s not found", platformPostID)
	}

	video := result.Data.Videos[0]
	return &Metrics{
		Impressions: video.ViewCount,
		Likes:       video.LikeCount,
		Comments:    video.CommentCount,
		Shares:      video.ShareCount,
		VideoViews:  video.ViewCount,
	}, nil
}

func (t *TiktokClient) post(ctx context.Context, endpoint, accessToken string, payload any, timeout time.Duration) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("tiktok request failed: %w", err)
	}
	defer resp.Body.Close()

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return body.Bytes(), nil
}

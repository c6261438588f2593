package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Graph API call budgets. Existence checks are cheap and short; publishing a
// video waits on the platform's upload processing.
const (
	fbCheckTimeout   = 8 * time.Second
	fbFetchTimeout   = 15 * time.Second
	fbPublishTimeout = 15 * time.Second
	fbVideoTimeout   = 120 * time.Second
)

// FacebookClient is the multi-call REST-metrics family: fetching insights for
// one post costs two to three sequential Graph API calls.
type FacebookClient struct {
	baseURL string
}

func NewFacebookClient(baseURL string) *FacebookClient {
	return &FacebookClient{baseURL: strings.TrimRight(baseURL, "/")}
}

type fbError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type fbErrorEnvelope struct {
	Error *fbError `json:"error"`
}

func (f *FacebookClient) Publish(ctx context.Context, pageID string, content *PostContent, accessToken string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/feed", f.baseURL, pageID)
	timeout := fbPublishTimeout

	data := url.Values{}
	message := content.Caption
	if message == "" {
		message = content.Body
	}
	data.Set("message", message)
	data.Set("access_token", accessToken)

	if len(content.Media) > 0 {
		media := content.Media[0]
		switch media.Type {
		case "video":
			data.Set("video_url", media.URL)
			timeout = fbVideoTimeout
		default:
			data.Set("url", media.URL)
		}
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("facebook publish request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ID    string   `json:"id"`
		Error *fbError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", fmt.Errorf("failed to decode publish response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("facebook error %d: %s", result.Error.Code, result.Error.Message)
	}
	if result.ID == "" {
		return "", errors.New("facebook publish returned no post id")
	}

	return result.ID, nil
}

// CheckExists reports whether the post is still visible on the platform. A
// Graph "unknown object" error (code 100) means deleted, not a failure.
func (f *FacebookClient) CheckExists(ctx context.Context, platformPostID, accessToken string) (bool, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=id&access_token=%s", f.baseURL, platformPostID, url.QueryEscape(accessToken))

	body, err := f.get(ctx, endpoint, fbCheckTimeout)
	if err != nil {
		return false, err
	}

	var envelope fbErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		slog.Info(err.Error())
		return false, err
	}
	if envelope.Error != nil {
		if envelope.Error.Code == 100 {
			return false, nil
		}
		return false, fmt.Errorf("facebook error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	return true, nil
}

// FetchInsights gathers metrics over sequential calls: engagement summaries
// on the post object, then the share count, which the summary call omits.
func (f *FacebookClient) FetchInsights(ctx context.Context, platformPostID, accessToken string) (*Metrics, error) {
	metrics := &Metrics{}

	endpoint := fmt.Sprintf("%s/%s?fields=id,likes.summary(true),comments.summary(true)&access_token=%s",
		f.baseURL, platformPostID, url.QueryEscape(accessToken))

	body, err := f.get(ctx, endpoint, fbFetchTimeout)
	if err != nil {
		return nil, err
	}

	var engagement struct {
		Likes struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"likes"`
		Comments struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"comments"`
		Error *fbError `json:"error"`
	}
	if err := json.Unmarshal(body, &engagement); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode engagement response: %w", err)
	}
	if engagement.Error != nil {
		return nil, fmt.Errorf("facebook error %d: %s", engagement.Error.Code, engagement.Error.Message)
	}
	metrics.Likes = engagement.Likes.Summary.TotalCount
	metrics.Comments = engagement.Comments.Summary.TotalCount

	shares, err := f.fetchShares(ctx, platformPostID, accessToken)
	if err != nil {
		// Shares are best-effort: a post readable above never fails the fetch
		// over the follow-up call.
		slog.Info(err.Error())
	} else {
		metrics.Shares = shares
	}

	return metrics, nil
}

func (f *FacebookClient) fetchShares(ctx context.Context, platformPostID, accessToken string) (int64, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=shares&access_token=%s", f.baseURL, platformPostID, url.QueryEscape(accessToken))

	body, err := f.get(ctx, endpoint, fbFetchTimeout)
	if err != nil {
		return 0, err
	}

	var result struct {
		Shares struct {
			Count int64 `json:"count"`
		} `json:"shares"`
		Error *fbError `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	if result.Error != nil {
		return 0, fmt.Errorf("facebook error %d: %s", result.Error.Code, result.Error.Message)
	}
	return result.Shares.Count, nil
}

// ListPagePosts walks a page's published posts for history import, following
// pagination until the cap.
func (f *FacebookClient) ListPagePosts(ctx context.Context, pageID, accessToken string, limit int) ([]*HistoryPost, error) {
	endpoint := fmt.Sprintf("%s/%s/posts?fields=id,message,created_time&limit=25&access_token=%s",
		f.baseURL, pageID, url.QueryEscape(accessToken))

	var posts []*HistoryPost
	for endpoint != "" && len(posts) < limit {
		body, err := f.get(ctx, endpoint, fbFetchTimeout)
		if err != nil {
			return posts, err
		}

		var page struct {
			Data []struct {
				ID          string    `json:"id"`
				Message     string    `json:"message"`
				CreatedTime time.Time `json:"created_time"`
			} `json:"data"`
			Paging struct {
				Next string `json:"next"`
			} `json:"paging"`
			Error *fbError `json:"error"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			slog.Info(err.Error())
			return posts, fmt.Errorf("failed to decode posts response: %w", err)
		}
		if page.Error != nil {
			return posts, fmt.Errorf("facebook error %d: %s", page.Error.Code, page.Error.Message)
		}

		for _, p := range page.Data {
			if len(posts) >= limit {
				break
			}
			posts = append(posts, &HistoryPost{
				PlatformPostID: p.ID,
				Message:        p.Message,
				CreatedTime:    p.CreatedTime,
			})
		}
		endpoint = page.Paging.Next
	}

	return posts, nil
}

func (f *FacebookClient) get(ctx context.Context, endpoint string, timeout time.Duration) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("facebook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return body, nil
}

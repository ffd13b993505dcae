package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/oauth2"

	"github.com/d60-Lab/tweet-queue/config"
)

const (
	createTweetPath = "/2/tweets"
	maxBodyBytes    = 1 << 20
)

// TwitterClient 通过 v2 API 发推
type TwitterClient struct {
	baseURL  string
	http     *http.Client
	authMode string
}

type createTweetRequest struct {
	Text string `json:"text"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// apiProblem v2 错误体（problem+json 与旧 errors 数组两种形态）
type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// NewTwitterClient 选择鉴权方式：OAuth1 用户上下文优先，其次 bearer token
func NewTwitterClient(cfg config.TwitterConfig) (*TwitterClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := &http.Client{Timeout: timeout}

	var (
		client *http.Client
		mode   string
	)
	switch {
	case cfg.HasOAuth1():
		ctx := context.WithValue(context.Background(), oauth1.HTTPClient, base)
		client = oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret).
			Client(ctx, oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret))
		mode = "oauth1"
	case cfg.BearerToken != "":
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.BearerToken,
			TokenType:   "Bearer",
		}))
		mode = "bearer"
	default:
		return nil, ErrMissingCredentials
	}
	client.Timeout = timeout

	return &TwitterClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     client,
		authMode: mode,
	}, nil
}

// AuthMode oauth1 或 bearer
func (c *TwitterClient) AuthMode() string { return c.authMode }

// Post 发布一条推文，返回推文 ID
func (c *TwitterClient) Post(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindRejected, Message: "tweet text is empty"}
	}

	payload, err := json.Marshal(createTweetRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode tweet: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createTweetPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classify(resp, body)
	}

	var out createTweetResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if out.Data.ID == "" {
		return "", &Error{Kind: KindRejected, StatusCode: resp.StatusCode, Message: "response carried no tweet id"}
	}
	return out.Data.ID, nil
}

func classify(resp *http.Response, body []byte) *Error {
	var problem apiProblem
	_ = json.Unmarshal(body, &problem)

	msg := problem.Detail
	if msg == "" {
		msg = problem.Title
	}
	if msg == "" && len(problem.Errors) > 0 {
		msg = problem.Errors[0].Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	e := &Error{StatusCode: resp.StatusCode, Message: msg}
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		e.Kind = KindAuth
	case code == http.StatusForbidden:
		// 403 同时用于凭证权限不足与内容被拒
		if strings.Contains(problem.Type, "authentication") || strings.Contains(problem.Type, "client-forbidden") {
			e.Kind = KindAuth
		} else {
			e.Kind = KindRejected
		}
	case code == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		if reset := resp.Header.Get("x-rate-limit-reset"); reset != "" {
			e.Message += " (reset at " + reset + ")"
		}
	case code >= 500:
		e.Kind = KindUnavailable
	case code >= 400:
		e.Kind = KindRejected
	default:
		e.Kind = KindUnknown
	}
	return e
}

var _ Poster = (*TwitterClient)(nil)

// IsTemporary 限流、服务端错误和网络错误可由外部策略稍后重试
func IsTemporary(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUnavailable, KindNetwork:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

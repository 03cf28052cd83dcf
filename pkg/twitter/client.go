// Package twitter reads a user's timeline from X.com through the web
// client's GraphQL API using a browser session cookie.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

// bearerToken is the public token embedded in the x.com web client.
const bearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

const (
	defaultBaseURL   = "https://x.com"
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// RateLimitError indicates the request hit a rate limit and includes a reset time if known.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	if !e.Reset.IsZero() {
		return fmt.Sprintf("rate limited until %s", e.Reset.Format(time.RFC3339))
	}
	return "rate limited"
}

// Unwrap lets errors.Is match domain.ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// Config configures a Client.
type Config struct {
	// AuthToken is the auth_token cookie of a logged-in session.
	AuthToken string
	// CT0 is the CSRF cookie. It is obtained during Login when empty.
	CT0 string
	// QueryIDs overrides GraphQL query IDs by operation name.
	QueryIDs map[string]string
	// Features overrides the GraphQL features JSON.
	Features  string
	UserAgent string
	Timeout   time.Duration
	// BaseURL defaults to https://x.com.
	BaseURL string
}

// User is a source account.
type User struct {
	ID         string
	ScreenName string
	Name       string
}

// Client talks to the x.com web API with session cookies.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	authToken  string
	ct0        string
	queryIDs   map[string]string
	features   string
	logger     *slog.Logger

	self *User
}

// NewClient creates a client. Login must be called before any other method.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, domain.ErrMissingSourceCredential
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Features == "" {
		cfg.Features = defaultFeatures
	}

	ids := make(map[string]string, len(defaultQueryIDs))
	for op, id := range defaultQueryIDs {
		ids[op] = id
	}
	for op, id := range cfg.QueryIDs {
		if id != "" {
			ids[op] = id
		}
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		authToken:  cfg.AuthToken,
		ct0:        cfg.CT0,
		queryIDs:   ids,
		features:   cfg.Features,
		logger:     logger,
	}, nil
}

// Self returns the logged-in account, or nil before Login.
func (c *Client) Self() *User {
	return c.self
}

// Login establishes the session. It fetches the ct0 cookie when it was not
// configured and verifies the credentials.
func (c *Client) Login(ctx context.Context) error {
	if c.ct0 == "" {
		ct0, err := c.fetchCSRFToken(ctx)
		if err != nil {
			return fmt.Errorf("obtain csrf token: %w", err)
		}
		c.ct0 = ct0
	}

	var resp struct {
		IDStr      string `json:"id_str"`
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	}
	err := c.getJSON(ctx, c.baseURL+"/i/api/1.1/account/verify_credentials.json?skip_status=true", &resp)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	if resp.IDStr == "" {
		return fmt.Errorf("verify credentials: %w", domain.ErrInvalidSourceCredential)
	}

	c.self = &User{ID: resp.IDStr, ScreenName: resp.ScreenName, Name: resp.Name}
	c.logger.Debug("twitter session verified", "username", resp.ScreenName)
	return nil
}

// fetchCSRFToken loads the home page with the session cookie and reads the
// ct0 cookie X sets in response.
func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cookie", "auth_token="+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	for _, ck := range resp.Cookies() {
		if ck.Name == "ct0" && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", domain.ErrInvalidSourceCredential
}

// sessionHeaders returns HTTP headers for authenticated requests.
func (c *Client) sessionHeaders() http.Header {
	decodedBearer, _ := url.QueryUnescape(bearerToken)

	return http.Header{
		"Authorization":             []string{"Bearer " + decodedBearer},
		"X-Csrf-Token":              []string{c.ct0},
		"Cookie":                    []string{"auth_token=" + c.authToken + "; ct0=" + c.ct0},
		"User-Agent":                []string{c.userAgent},
		"Content-Type":              []string{"application/json"},
		"X-Twitter-Active-User":     []string{"yes"},
		"X-Twitter-Client-Language": []string{"en"},
		"X-Twitter-Auth-Type":       []string{"OAuth2Session"},
	}
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.sessionHeaders() {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		rl := &RateLimitError{}
		if reset := resp.Header.Get("x-rate-limit-reset"); reset != "" {
			if sec, err := strconv.ParseInt(reset, 10, 64); err == nil {
				rl.Reset = time.Unix(sec, 0)
			}
		}
		return rl
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w", resp.Status, domain.ErrInvalidSourceCredential)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("api error: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetUser resolves a screen name to an account.
func (c *Client) GetUser(ctx context.Context, username string) (*User, error) {
	if c.self == nil {
		return nil, domain.ErrNotLoggedIn
	}

	vars := map[string]any{
		"screen_name":              strings.TrimPrefix(username, "@"),
		"withSafetyModeUserFields": true,
	}
	var resp userResponse
	if err := c.graphql(ctx, opUserByScreenName, vars, &resp); err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}

	res := resp.User.Result
	if res == nil || res.RestID == "" || res.Typename == "UserUnavailable" {
		return nil, fmt.Errorf("get user %s: %w", username, domain.ErrUserNotFound)
	}
	return &User{ID: res.RestID, ScreenName: res.screenName(), Name: res.name()}, nil
}

// TweetsOptions controls a timeline fetch.
type TweetsOptions struct {
	Count                  int
	IncludePromotedContent bool
}

// GetUserTweets returns up to opts.Count of the user's most recent tweets
// and replies, newest first. Tweets by other authors that appear in
// conversation modules are dropped.
func (c *Client) GetUserTweets(ctx context.Context, userID string, opts TweetsOptions) ([]domain.SourceItem, error) {
	if c.self == nil {
		return nil, domain.ErrNotLoggedIn
	}
	if opts.Count <= 0 {
		opts.Count = 20
	}
	if opts.Count > 100 {
		opts.Count = 100
	}

	vars := map[string]any{
		"userId":                 userID,
		"count":                  opts.Count,
		"includePromotedContent": opts.IncludePromotedContent,
		"withCommunity":          true,
		"withVoice":              true,
	}
	var resp userTimelineResponse
	if err := c.graphql(ctx, opUserTweetsAndReplies, vars, &resp); err != nil {
		return nil, fmt.Errorf("get tweets for user %s: %w", userID, err)
	}

	items := itemsFromInstructions(resp.instructions(), userID)
	if len(items) > opts.Count {
		items = items[:opts.Count]
	}
	c.logger.Debug("fetched timeline", "user_id", userID, "items", len(items))
	return items, nil
}

// FetchConversation returns every tweet X shows on the detail page of
// tweetID, including replies below it, newest first.
func (c *Client) FetchConversation(ctx context.Context, tweetID domain.TweetID) ([]domain.SourceItem, error) {
	if c.self == nil {
		return nil, domain.ErrNotLoggedIn
	}

	vars := map[string]any{
		"focalTweetId":                           tweetID.String(),
		"with_rux_injections":                    false,
		"rankingMode":                            "Relevance",
		"includePromotedContent":                 false,
		"withCommunity":                          true,
		"withQuickPromoteEligibilityTweetFields": false,
		"withBirdwatchNotes":                     false,
		"withVoice":                              true,
	}
	var resp tweetDetailResponse
	if err := c.graphql(ctx, opTweetDetail, vars, &resp); err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", tweetID, err)
	}
	return itemsFromInstructions(resp.Conversation.Instructions, ""), nil
}

// Package bluesky publishes posts to an AT Protocol PDS.
package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

// DefaultService is the PDS used when none is configured.
const DefaultService = "https://bsky.social"

const postCollection = "app.bsky.feed.post"

// Config configures a Client.
type Config struct {
	Service   string
	UserAgent string
	Timeout   time.Duration
}

// Client is a logged-in session on one PDS account.
type Client struct {
	xrpc   *xrpc.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient creates a client for the configured service.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	xc := &xrpc.Client{
		Client: &http.Client{Timeout: cfg.Timeout},
		Host:   strings.TrimRight(cfg.Service, "/"),
	}
	if cfg.UserAgent != "" {
		ua := cfg.UserAgent
		xc.UserAgent = &ua
	}

	return &Client{
		xrpc:   xc,
		logger: logger,
		now:    time.Now,
	}
}

// Login creates a session with a handle and app password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	out, err := atproto.ServerCreateSession(ctx, c.xrpc, &atproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   password,
	})
	if err != nil {
		return fmt.Errorf("create session for %s: %w", identifier, wrapXRPCError(err))
	}

	c.xrpc.Auth = &xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	}
	c.logger.Debug("bluesky session created", "handle", out.Handle, "did", out.Did)
	return nil
}

// Handle returns the session handle, or "" before Login.
func (c *Client) Handle() string {
	if c.xrpc.Auth == nil {
		return ""
	}
	return c.xrpc.Auth.Handle
}

// DID returns the session DID, or "" before Login.
func (c *Client) DID() string {
	if c.xrpc.Auth == nil {
		return ""
	}
	return c.xrpc.Auth.Did
}

// UploadBlob stores data on the PDS and returns the blob reference to embed.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*lexutil.LexBlob, error) {
	if c.xrpc.Auth == nil {
		return nil, domain.ErrNotLoggedIn
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var out atproto.RepoUploadBlob_Output
	err := c.xrpc.LexDo(ctx, lexutil.Procedure, mimeType, "com.atproto.repo.uploadBlob", nil, bytes.NewReader(data), &out)
	if err != nil {
		return nil, fmt.Errorf("upload blob (%s, %d bytes): %w", mimeType, len(data), wrapXRPCError(err))
	}
	if out.Blob == nil {
		return nil, fmt.Errorf("upload blob: empty response")
	}
	return out.Blob, nil
}

// PostInput is one post to create.
type PostInput struct {
	Text  string
	Reply *domain.ReplyRef
	Embed *bsky.FeedPost_Embed
	// CreatedAt defaults to now.
	CreatedAt time.Time
	Langs     []string
}

// Post creates an app.bsky.feed.post record. Links and hashtags in the
// text are annotated with facets.
func (c *Client) Post(ctx context.Context, in PostInput) (domain.Ref, error) {
	if c.xrpc.Auth == nil {
		return domain.Ref{}, domain.ErrNotLoggedIn
	}

	created := in.CreatedAt
	if created.IsZero() {
		created = c.now()
	}

	post := bsky.FeedPost{
		Text:      in.Text,
		CreatedAt: created.UTC().Format(time.RFC3339Nano),
		Facets:    DetectFacets(in.Text),
		Embed:     in.Embed,
		Langs:     in.Langs,
	}
	if in.Reply != nil {
		post.Reply = &bsky.FeedPost_ReplyRef{
			Root:   &atproto.RepoStrongRef{Uri: in.Reply.Root.URI, Cid: in.Reply.Root.CID},
			Parent: &atproto.RepoStrongRef{Uri: in.Reply.Parent.URI, Cid: in.Reply.Parent.CID},
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, c.xrpc, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       c.xrpc.Auth.Did,
		Record:     &lexutil.LexiconTypeDecoder{Val: &post},
	})
	if err != nil {
		return domain.Ref{}, fmt.Errorf("create post: %w", wrapXRPCError(err))
	}
	return domain.Ref{URI: out.Uri, CID: out.Cid}, nil
}

// wrapXRPCError maps throttling responses onto domain.ErrRateLimited.
func wrapXRPCError(err error) error {
	var xe *xrpc.Error
	if errors.As(err, &xe) && xe.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}
	return err
}

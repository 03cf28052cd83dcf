package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/pkg/bluesky"
)

// BlueskyPublisher uploads a unit's attachments and creates the post.
type BlueskyPublisher struct {
	client *bluesky.Client
	logger *slog.Logger
}

// NewBlueskyPublisherFactory returns a factory that logs in to each
// mapping's PDS with its app password.
func NewBlueskyPublisherFactory(userAgent string, timeout time.Duration, logger *slog.Logger) PublisherFactory {
	return func(ctx context.Context, m config.Mapping) (Publisher, error) {
		client := bluesky.NewClient(bluesky.Config{
			Service:   m.BlueskyService,
			UserAgent: userAgent,
			Timeout:   timeout,
		}, logger)
		if err := client.Login(ctx, m.BlueskyHandle, m.BlueskyAppPassword); err != nil {
			return nil, err
		}
		return &BlueskyPublisher{client: client, logger: logger}, nil
	}
}

// Handle returns the logged-in handle.
func (p *BlueskyPublisher) Handle() string {
	return p.client.Handle()
}

// Publish posts one unit.
func (p *BlueskyPublisher) Publish(ctx context.Context, unit domain.PublishUnit, reply *domain.ReplyRef) (domain.Ref, error) {
	embed, err := p.client.BuildEmbed(ctx, unit.Embed)
	if err != nil {
		return domain.Ref{}, fmt.Errorf("build embed: %w", err)
	}
	if unit.Text == "" && embed == nil {
		return domain.Ref{}, domain.ErrEmptyPost
	}
	return p.client.Post(ctx, bluesky.PostInput{
		Text:  unit.Text,
		Reply: reply,
		Embed: embed,
	})
}

// DryRunPublisher logs what would be posted and returns synthetic refs.
type DryRunPublisher struct {
	source string
	handle string
	logger *slog.Logger
	n      int
}

// NewDryRunPublisher creates a publisher that never touches the network.
func NewDryRunPublisher(source, handle string, logger *slog.Logger) *DryRunPublisher {
	return &DryRunPublisher{source: source, handle: handle, logger: logger}
}

// Handle returns the configured destination handle.
func (p *DryRunPublisher) Handle() string {
	return p.handle
}

// Publish returns dryrun://<source>/<n>.
func (p *DryRunPublisher) Publish(_ context.Context, unit domain.PublishUnit, reply *domain.ReplyRef) (domain.Ref, error) {
	p.n++
	ref := domain.Ref{
		URI: fmt.Sprintf("dryrun://%s/%d", p.source, p.n),
		CID: fmt.Sprintf("dryrun-%d", p.n),
	}

	attrs := []any{
		"tweet_id", unit.ItemID,
		"chunk", fmt.Sprintf("%d/%d", unit.Chunk+1, unit.ChunkCount),
		"text", unit.Text,
		"reply", reply != nil,
	}
	if unit.Embed != nil {
		switch {
		case unit.Embed.Media != nil:
			attrs = append(attrs, "embed", string(unit.Embed.Media.Kind))
		case unit.Embed.Link != nil:
			attrs = append(attrs, "embed", "external", "link", unit.Embed.Link.URI)
		}
	}
	p.logger.Info("dry run: would post", attrs...)
	return ref, nil
}

package service

import (
	"context"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/pkg/twitter"
)

// Source reads a source account's recent tweets.
type Source interface {
	GetUser(ctx context.Context, username string) (*twitter.User, error)
	GetUserTweets(ctx context.Context, userID string, opts twitter.TweetsOptions) ([]domain.SourceItem, error)
}

// ContinuationFetcher returns the conversation below a tweet so that
// self-replies outside the fetched window can still be threaded.
type ContinuationFetcher interface {
	FetchConversation(ctx context.Context, tweetID domain.TweetID) ([]domain.SourceItem, error)
}

// MediaResolver downloads a tweet's attachments into a media plan.
type MediaResolver interface {
	Resolve(ctx context.Context, media []domain.MediaEntity) *domain.MediaPlan
}

// LinkCardResolver builds a preview card for a tweet's first external link.
type LinkCardResolver interface {
	Resolve(ctx context.Context, urls []domain.URLEntity, media []domain.MediaEntity) *domain.LinkCard
}

// Publisher writes single posts to the destination.
type Publisher interface {
	// Handle is the destination account the posts are written to.
	Handle() string
	Publish(ctx context.Context, unit domain.PublishUnit, reply *domain.ReplyRef) (domain.Ref, error)
}

// PublisherFactory opens a destination session for a mapping.
type PublisherFactory func(ctx context.Context, m config.Mapping) (Publisher, error)

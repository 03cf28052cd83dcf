package domain

import (
	"strings"
	"time"
)

// TweetID is a unique identifier for a tweet.
type TweetID string

// String returns the string representation of the TweetID.
func (id TweetID) String() string {
	return string(id)
}

// SourceItem is a tweet as fetched from the source account. It is never
// mutated after fetch.
type SourceItem struct {
	ID        TweetID
	AuthorID  string
	Text      string
	CreatedAt time.Time
	URLs      []URLEntity
	Media     []MediaEntity
	ReplyTo   *ReplyTarget // If this is a reply
	QuotedID  *TweetID     // If this quotes another tweet
	Retweet   bool
}

// URLEntity maps a shortened t.co link to its real destination.
type URLEntity struct {
	ShortURL    string `json:"short_url"`
	ExpandedURL string `json:"expanded_url,omitempty"`
}

// ReplyTarget identifies the tweet and author an item replies to.
type ReplyTarget struct {
	StatusID TweetID
	UserID   string
}

// MediaEntity represents an image or video attached to a tweet.
type MediaEntity struct {
	Type        MediaType      `json:"type"`
	ShortURL    string         `json:"short_url,omitempty"`
	ExpandedURL string         `json:"expanded_url,omitempty"`
	MediaURL    string         `json:"media_url"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
	DurationMs  int            `json:"duration_ms,omitempty"` // For videos
	AltText     string         `json:"alt_text,omitempty"`
	Variants    []VideoVariant `json:"variants,omitempty"`
}

// VideoVariant is one encoding of a video offered by the source.
type VideoVariant struct {
	Bitrate     int    `json:"bitrate,omitempty"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// MediaType represents the type of media.
type MediaType string

const (
	MediaTypePhoto MediaType = "photo"
	MediaTypeVideo MediaType = "video"
	MediaTypeGIF   MediaType = "animated_gif"
)

// IsVideo reports whether the media plays as a video on the destination.
func (t MediaType) IsVideo() bool {
	return t == MediaTypeVideo || t == MediaTypeGIF
}

// IsReply returns true if the item replies to another tweet.
func (s *SourceItem) IsReply() bool {
	return s.ReplyTo != nil && s.ReplyTo.StatusID != ""
}

// IsSelfReply returns true if the item replies to a tweet by its own author.
func (s *SourceItem) IsSelfReply() bool {
	return s.IsReply() && s.ReplyTo.UserID != "" && s.ReplyTo.UserID == s.AuthorID
}

// IsRetweet returns true for native retweets and old-style "RT @" posts.
func (s *SourceItem) IsRetweet() bool {
	return s.Retweet || strings.HasPrefix(s.Text, "RT @")
}

// IsQuote returns true if the item quotes another tweet.
func (s *SourceItem) IsQuote() bool {
	return s.QuotedID != nil && *s.QuotedID != ""
}

// HasVideo returns true if the item carries a video or animated GIF.
func (s *SourceItem) HasVideo() bool {
	for _, m := range s.Media {
		if m.Type.IsVideo() {
			return true
		}
	}
	return false
}

// HasImages returns true if the item carries photos.
func (s *SourceItem) HasImages() bool {
	for _, m := range s.Media {
		if m.Type == MediaTypePhoto {
			return true
		}
	}
	return false
}

package bluesky

import (
	"context"

	"github.com/bluesky-social/indigo/api/bsky"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

// BuildEmbed uploads the attachments of e and returns the record embed.
// Upload failures degrade the embed: failed images are dropped, a failed
// video or an embed with no surviving images yields nil, and a failed
// thumbnail leaves the link card without one.
func (c *Client) BuildEmbed(ctx context.Context, e *domain.Embed) (*bsky.FeedPost_Embed, error) {
	if e == nil {
		return nil, nil
	}
	if e.Media != nil {
		switch e.Media.Kind {
		case domain.MediaKindImages:
			return c.imagesEmbed(ctx, e.Media.Images)
		case domain.MediaKindVideo:
			return c.videoEmbed(ctx, e.Media.Video)
		}
	}
	if e.Link != nil {
		return c.externalEmbed(ctx, e.Link)
	}
	return nil, nil
}

func (c *Client) imagesEmbed(ctx context.Context, images []domain.ImageAttachment) (*bsky.FeedPost_Embed, error) {
	var out []*bsky.EmbedImages_Image
	for i, img := range images {
		if len(out) == domain.MaxImagesPerPost {
			break
		}
		blob, err := c.UploadBlob(ctx, img.Data, img.MimeType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("image upload failed, dropping image", "index", i, "error", err)
			continue
		}
		out = append(out, &bsky.EmbedImages_Image{
			Alt:         img.AltText,
			AspectRatio: aspectRatio(img.Width, img.Height),
			Image:       blob,
		})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &bsky.FeedPost_Embed{EmbedImages: &bsky.EmbedImages{Images: out}}, nil
}

func (c *Client) videoEmbed(ctx context.Context, v *domain.VideoAttachment) (*bsky.FeedPost_Embed, error) {
	if v == nil {
		return nil, nil
	}
	blob, err := c.UploadBlob(ctx, v.Data, v.MimeType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("video upload failed, posting without video", "error", err)
		return nil, nil
	}

	ev := &bsky.EmbedVideo{
		Video:       blob,
		AspectRatio: aspectRatio(v.Width, v.Height),
	}
	if v.AltText != "" {
		alt := v.AltText
		ev.Alt = &alt
	}
	return &bsky.FeedPost_Embed{EmbedVideo: ev}, nil
}

func (c *Client) externalEmbed(ctx context.Context, card *domain.LinkCard) (*bsky.FeedPost_Embed, error) {
	ext := &bsky.EmbedExternal_External{
		Uri:         card.URI,
		Title:       card.Title,
		Description: card.Description,
	}
	if card.Thumb != nil && len(card.Thumb.Data) > 0 {
		blob, err := c.UploadBlob(ctx, card.Thumb.Data, card.Thumb.MimeType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("link card thumbnail upload failed", "uri", card.URI, "error", err)
		} else {
			ext.Thumb = blob
		}
	}
	return &bsky.FeedPost_Embed{EmbedExternal: &bsky.EmbedExternal{External: ext}}, nil
}

func aspectRatio(w, h int) *bsky.EmbedDefs_AspectRatio {
	if w <= 0 || h <= 0 {
		return nil
	}
	return &bsky.EmbedDefs_AspectRatio{Width: int64(w), Height: int64(h)}
}

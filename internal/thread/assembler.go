// Package thread lays out tweets and their self-reply continuations as a
// chain of Bluesky posts.
package thread

import (
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/internal/transform"
)

// Item is a source tweet with its resolved content.
type Item struct {
	Source  domain.SourceItem
	Content domain.NormalizedContent
}

// Assemble builds the publish plan for a root item followed by its thread
// continuations, which must already be in chronological order. Each unit
// replies to the unit before it. Only the first chunk of an item carries
// its embed. When anchor is set the first unit replies to it.
func Assemble(root Item, continuations []Item, maxLength int, anchor *domain.ReplyRef) domain.PublishPlan {
	plan := domain.PublishPlan{Anchor: anchor}

	appendItem := func(it Item) {
		chunks := transform.Split(it.Content.CleanedText, maxLength)
		embed := embedFor(it.Content)
		for i, text := range chunks {
			u := domain.PublishUnit{
				ItemID:     it.Source.ID,
				Chunk:      i,
				ChunkCount: len(chunks),
				Text:       text,
				Parent:     len(plan.Units) - 1,
			}
			if i == 0 {
				u.Embed = embed
			}
			plan.Units = append(plan.Units, u)
		}
	}

	appendItem(root)
	for _, c := range continuations {
		appendItem(c)
	}
	return plan
}

func embedFor(c domain.NormalizedContent) *domain.Embed {
	switch {
	case c.Media != nil:
		return &domain.Embed{Media: c.Media}
	case c.LinkCard != nil:
		return &domain.Embed{Link: c.LinkCard}
	default:
		return nil
	}
}

// ReplyFor returns the reply reference of the unit at index i given the
// refs of every unit published before it. The first unit of an unanchored
// plan gets nil.
func ReplyFor(plan domain.PublishPlan, i int, published []domain.Ref) *domain.ReplyRef {
	u := plan.Units[i]
	if u.Parent < 0 {
		if plan.Anchor == nil {
			return nil
		}
		ref := *plan.Anchor
		return &ref
	}

	root := published[0]
	if plan.Anchor != nil {
		root = plan.Anchor.Root
	}
	return &domain.ReplyRef{Root: root, Parent: published[u.Parent]}
}

package thread

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

func item(id, text string) Item {
	return Item{
		Source:  domain.SourceItem{ID: domain.TweetID(id), Text: text},
		Content: domain.NormalizedContent{CleanedText: text},
	}
}

func TestAssemble_SingleItem(t *testing.T) {
	images := &domain.MediaPlan{Kind: domain.MediaKindImages, Images: make([]domain.ImageAttachment, 4)}
	root := item("1", "Four pictures from the trip")
	root.Content.Media = images

	plan := Assemble(root, nil, 300, nil)

	want := []domain.PublishUnit{{
		ItemID:     "1",
		Chunk:      0,
		ChunkCount: 1,
		Text:       "Four pictures from the trip",
		Embed:      &domain.Embed{Media: images},
		Parent:     -1,
	}}
	if diff := cmp.Diff(want, plan.Units); diff != "" {
		t.Errorf("Assemble() mismatch (-want +got):\n%s", diff)
	}
	if ReplyFor(plan, 0, nil) != nil {
		t.Error("first unit of an unanchored plan should not be a reply")
	}
}

func TestAssemble_EmbedOnlyOnFirstChunk(t *testing.T) {
	card := &domain.LinkCard{URI: "https://example.com", Title: "Example"}
	root := item("1", strings.TrimSpace(strings.Repeat("word ", 100)))
	root.Content.LinkCard = card

	plan := Assemble(root, nil, 300, nil)

	if len(plan.Units) != 2 {
		t.Fatalf("len(Units) = %d, want 2", len(plan.Units))
	}
	if plan.Units[0].Embed == nil || plan.Units[0].Embed.Link != card {
		t.Error("chunk 0 should carry the link card")
	}
	if plan.Units[1].Embed != nil {
		t.Error("chunk 1 should have no embed")
	}
	for i, u := range plan.Units {
		if u.ChunkCount != 2 || u.Chunk != i {
			t.Errorf("unit %d chunk = %d/%d", i, u.Chunk, u.ChunkCount)
		}
	}
}

func TestAssemble_RootWithContinuations(t *testing.T) {
	root := item("1", strings.TrimSpace(strings.Repeat("word ", 140)))
	c1 := item("2", "second tweet of the thread")
	c1.Content.Media = &domain.MediaPlan{Kind: domain.MediaKindVideo, Video: &domain.VideoAttachment{}}
	c2 := item("3", "third tweet of the thread")

	plan := Assemble(root, []Item{c1, c2}, 300, nil)

	if len(plan.Units) != 5 {
		t.Fatalf("len(Units) = %d, want 5", len(plan.Units))
	}

	gotItems := make([]domain.TweetID, len(plan.Units))
	for i, u := range plan.Units {
		gotItems[i] = u.ItemID
		if u.Parent != i-1 {
			t.Errorf("unit %d parent = %d, want %d", i, u.Parent, i-1)
		}
	}
	if diff := cmp.Diff([]domain.TweetID{"1", "1", "1", "2", "3"}, gotItems); diff != "" {
		t.Errorf("unit items mismatch (-want +got):\n%s", diff)
	}
	if plan.Units[3].Embed == nil || plan.Units[3].Embed.Media != c1.Content.Media {
		t.Error("continuation media should attach to its own first unit")
	}

	// Simulate publishing: every unit after the first roots at unit 0 and
	// replies to the one before it.
	var published []domain.Ref
	for i := range plan.Units {
		reply := ReplyFor(plan, i, published)
		if i == 0 {
			if reply != nil {
				t.Fatalf("unit 0 reply = %+v, want nil", reply)
			}
		} else {
			want := &domain.ReplyRef{Root: published[0], Parent: published[i-1]}
			if diff := cmp.Diff(want, reply); diff != "" {
				t.Errorf("unit %d reply mismatch (-want +got):\n%s", i, diff)
			}
		}
		published = append(published, domain.Ref{
			URI: fmt.Sprintf("at://did:plc:test/app.bsky.feed.post/%d", i),
			CID: fmt.Sprintf("cid%d", i),
		})
	}
}

func TestAssemble_EmptyCaptionWithMedia(t *testing.T) {
	root := item("1", "")
	root.Content.Media = &domain.MediaPlan{Kind: domain.MediaKindImages, Images: make([]domain.ImageAttachment, 1)}

	plan := Assemble(root, nil, 300, nil)

	if len(plan.Units) != 1 || plan.Units[0].Text != "" || plan.Units[0].Embed == nil {
		t.Errorf("plan = %+v, want one captionless unit with media", plan.Units)
	}
}

func TestAssemble_Anchored(t *testing.T) {
	anchor := &domain.ReplyRef{
		Root:   domain.Ref{URI: "at://root", CID: "rootcid"},
		Parent: domain.Ref{URI: "at://parent", CID: "parentcid"},
	}
	plan := Assemble(item("5", "late reply"), []Item{item("6", "and another")}, 300, anchor)

	first := ReplyFor(plan, 0, nil)
	if diff := cmp.Diff(anchor, first); diff != "" {
		t.Errorf("anchored first reply mismatch (-want +got):\n%s", diff)
	}

	published := []domain.Ref{{URI: "at://five", CID: "fivecid"}}
	second := ReplyFor(plan, 1, published)
	want := &domain.ReplyRef{Root: anchor.Root, Parent: published[0]}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("anchored second reply mismatch (-want +got):\n%s", diff)
	}
}

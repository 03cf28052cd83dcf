package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/internal/ledger"
	"github.com/iconidentify/xcrosspost/internal/media"
	"github.com/iconidentify/xcrosspost/internal/thread"
	"github.com/iconidentify/xcrosspost/internal/transform"
	"github.com/iconidentify/xcrosspost/pkg/twitter"
)

// errAbortMapping stops processing of the current mapping only.
var errAbortMapping = errors.New("mapping aborted")

// Summary counts what happened to one mapping during a run.
type Summary struct {
	Username      string
	Handle        string
	AlreadyPosted int
	Reply         int
	Retweet       int
	Quote         int
	Empty         int
	Ready         int
	Published     int
	DryRun        int
	Failed        int
	// Err is the per-mapping error that ended processing early, if any.
	Err error
}

// Skipped returns the number of items recorded as skipped this run.
func (s Summary) Skipped() int {
	return s.Reply + s.Retweet + s.Quote + s.Empty
}

func (s Summary) String() string {
	out := fmt.Sprintf("@%s -> %s: %d published, %d dry-run, %d failed, %d already posted, %d skipped (reply %d, retweet %d, quote %d, empty %d)",
		s.Username, s.Handle, s.Published, s.DryRun, s.Failed, s.AlreadyPosted,
		s.Skipped(), s.Reply, s.Retweet, s.Quote, s.Empty)
	if s.Err != nil {
		out += fmt.Sprintf(" [error: %v]", s.Err)
	}
	return out
}

// Crossposter mirrors source accounts to their destination accounts. It
// processes mappings and items strictly in order on the calling goroutine.
type Crossposter struct {
	source        Source
	conversations ContinuationFetcher
	media         MediaResolver
	cards         LinkCardResolver
	ledger        *ledger.Ledger
	publishers    PublisherFactory
	opts          config.OptionsConfig
	logger        *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCrossposter creates a crossposter. conversations may be nil, in which
// case thread continuations come from the fetched timeline only.
func NewCrossposter(
	source Source,
	conversations ContinuationFetcher,
	mediaResolver MediaResolver,
	cards LinkCardResolver,
	led *ledger.Ledger,
	publishers PublisherFactory,
	opts config.OptionsConfig,
	logger *slog.Logger,
) *Crossposter {
	if opts.MaxPostLength <= 0 {
		opts.MaxPostLength = transform.DefaultMaxLength
	}
	return &Crossposter{
		source:        source,
		conversations: conversations,
		media:         mediaResolver,
		cards:         cards,
		ledger:        led,
		publishers:    publishers,
		opts:          opts,
		logger:        logger,
		sleep:         sleepContext,
	}
}

// Run processes every mapping once. Per-mapping failures are reported in
// the summaries; the returned error is reserved for context cancellation
// and ledger persistence failures.
func (c *Crossposter) Run(ctx context.Context, mappings []config.Mapping) ([]Summary, error) {
	summaries := make([]Summary, 0, len(mappings))
	for _, m := range mappings {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}

		summary, err := c.runMapping(ctx, m)
		summaries = append(summaries, summary)
		c.logger.Info("mapping complete",
			"twitter", summary.Username,
			"bluesky", summary.Handle,
			"already_posted", summary.AlreadyPosted,
			"reply", summary.Reply,
			"retweet", summary.Retweet,
			"quote", summary.Quote,
			"empty", summary.Empty,
			"ready", summary.Ready,
			"published", summary.Published,
			"dry_run", summary.DryRun,
			"failed", summary.Failed,
		)
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

// mappingRun is the state of one mapping within a run.
type mappingRun struct {
	c       *Crossposter
	m       config.Mapping
	acct    *ledger.Account
	logger  *slog.Logger
	summary *Summary

	// batch is the fetched timeline, oldest first.
	batch    []domain.SourceItem
	consumed map[domain.TweetID]bool
	// deferred items stay out of the ledger this run, with their replies.
	deferred map[domain.TweetID]bool
	pub      Publisher
	wrote    bool
}

func (c *Crossposter) runMapping(ctx context.Context, m config.Mapping) (Summary, error) {
	s := Summary{Username: m.TwitterUsername, Handle: m.BlueskyHandle}
	logger := c.logger.With("twitter", m.TwitterUsername, "bluesky", m.BlueskyHandle)
	logger.Info("processing mapping", "dry_run", c.opts.DryRun)

	user, err := c.source.GetUser(ctx, m.TwitterUsername)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		logger.Error("could not find twitter user", "error", err)
		s.Err = err
		return s, nil
	}

	items, err := c.source.GetUserTweets(ctx, user.ID, twitter.TweetsOptions{Count: c.opts.MaxTweetsPerCheck})
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		logger.Error("failed to fetch tweets", "error", err)
		s.Err = err
		return s, nil
	}
	if len(items) == 0 {
		logger.Info("no tweets found")
		return s, nil
	}

	// Timeline is newest first; publish oldest first.
	batch := make([]domain.SourceItem, len(items))
	for i, it := range items {
		batch[len(items)-1-i] = it
	}

	run := &mappingRun{
		c:        c,
		m:        m,
		acct:     c.ledger.Account(m.TwitterUsername),
		logger:   logger,
		summary:  &s,
		batch:    batch,
		consumed: make(map[domain.TweetID]bool),
		deferred: make(map[domain.TweetID]bool),
	}

	for _, item := range run.batch {
		if err := run.process(ctx, item); err != nil {
			if errors.Is(err, errAbortMapping) {
				return s, nil
			}
			return s, err
		}
	}
	return s, nil
}

func (r *mappingRun) process(ctx context.Context, item domain.SourceItem) error {
	if r.consumed[item.ID] {
		return nil
	}
	if r.acct.Has(item.ID) {
		r.summary.AlreadyPosted++
		return nil
	}

	if item.IsSelfReply() && r.deferred[item.ReplyTo.StatusID] {
		return r.deferItem(item.ID, "parent deferred to next run")
	}

	anchor, parentID, threaded := r.anchorFor(item)
	if reason := r.c.classify(item, threaded); reason != "" {
		return r.skip(ctx, item.ID, reason)
	}

	root := r.c.prepare(ctx, item)
	if root.Content.IsEmpty() {
		if declaresMedia(item) {
			return r.deferItem(item.ID, "media unavailable")
		}
		return r.skip(ctx, item.ID, ledger.ReasonEmpty)
	}

	continuations := r.collectContinuations(ctx, item)
	plan := thread.Assemble(root, continuations, r.c.opts.MaxPostLength, anchor)

	items := map[domain.TweetID]thread.Item{root.Source.ID: root}
	for _, it := range continuations {
		items[it.Source.ID] = it
	}
	for _, id := range plan.ItemIDs() {
		r.consumed[id] = true
	}
	r.summary.Ready += len(items)

	r.logger.Debug("plan assembled",
		"tweet_id", item.ID,
		"units", len(plan.Units),
		"continuations", len(continuations),
		"anchored", anchor != nil || parentID != "",
	)
	return r.execute(ctx, plan, items, parentID)
}

// classify returns the skip reason for item, or "" when it should be
// published. threaded marks self-replies that continue a known thread.
func (c *Crossposter) classify(item domain.SourceItem, threaded bool) string {
	switch {
	case item.IsReply() && !threaded && !c.opts.IncludeReplies:
		return ledger.ReasonReply
	case item.IsRetweet() && !c.opts.IncludeRetweets:
		return ledger.ReasonRetweet
	case item.IsQuote() && !c.opts.IncludeQuoteTweets:
		return ledger.ReasonQuote
	}
	return ""
}

// anchorFor reports whether item is a self-reply to a tweet that an earlier
// run already published, and if so which destination post it continues.
// In dry-run mode an earlier dry-run entry also counts, without refs.
func (r *mappingRun) anchorFor(item domain.SourceItem) (*domain.ReplyRef, domain.TweetID, bool) {
	if !item.IsSelfReply() {
		return nil, "", false
	}
	parentID := item.ReplyTo.StatusID
	parent, ok := r.acct.Get(parentID)
	if !ok || parent.Skipped {
		return nil, "", false
	}
	if parent.DryRun {
		if r.c.opts.DryRun {
			return nil, parentID, true
		}
		return nil, "", false
	}

	first := domain.Ref{URI: parent.DestinationRef, CID: parent.DestinationCID}
	anchor := &domain.ReplyRef{Root: first, Parent: first}
	if parent.RootRef != nil {
		anchor.Root = *parent.RootRef
	}
	if parent.LastRef != nil {
		anchor.Parent = *parent.LastRef
	}
	return anchor, parentID, true
}

// prepare normalizes an item's text and resolves its media and link card.
func (c *Crossposter) prepare(ctx context.Context, item domain.SourceItem) thread.Item {
	content := domain.NormalizedContent{
		CleanedText: transform.Normalize(item.Text, item.URLs, item.Media),
	}
	if declaresMedia(item) && c.media != nil {
		content.Media = c.media.Resolve(ctx, item.Media)
	}
	if content.Media == nil {
		content.ExternalLink = media.FirstExternalLink(item.URLs, item.Media)
		if content.ExternalLink != "" && c.cards != nil {
			content.LinkCard = c.cards.Resolve(ctx, item.URLs, item.Media)
		}
	}
	return thread.Item{Source: item, Content: content}
}

func declaresMedia(item domain.SourceItem) bool {
	return item.HasImages() || item.HasVideo()
}

// deferItem leaves an item out of the ledger so the next run picks it up
// again. It counts as failed for this run.
func (r *mappingRun) deferItem(id domain.TweetID, why string) error {
	r.deferred[id] = true
	r.consumed[id] = true
	r.summary.Failed++
	r.logger.Warn("tweet deferred to next run", "tweet_id", id, "reason", why)
	return nil
}

// collectContinuations finds the author's self-replies that chain back to
// root, oldest first. Candidates come from the fetched timeline plus the
// root's conversation when a fetcher is configured.
func (r *mappingRun) collectContinuations(ctx context.Context, root domain.SourceItem) []thread.Item {
	candidates := make(map[domain.TweetID]domain.SourceItem)
	for _, it := range r.batch {
		if it.AuthorID == root.AuthorID {
			candidates[it.ID] = it
		}
	}

	if r.c.conversations != nil {
		fetched, err := r.c.conversations.FetchConversation(ctx, root.ID)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("conversation fetch failed, using timeline only", "tweet_id", root.ID, "error", err)
			}
		} else {
			for _, it := range fetched {
				if _, ok := candidates[it.ID]; !ok && it.AuthorID == root.AuthorID {
					candidates[it.ID] = it
				}
			}
		}
	}

	sorted := make([]domain.SourceItem, 0, len(candidates))
	for _, it := range candidates {
		if olderID(root.ID, it.ID) {
			sorted = append(sorted, it)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return olderID(sorted[i].ID, sorted[j].ID)
	})

	chain := map[domain.TweetID]bool{root.ID: true}
	var out []thread.Item
	for _, cand := range sorted {
		if !cand.IsSelfReply() || !chain[cand.ReplyTo.StatusID] {
			continue
		}
		if r.consumed[cand.ID] || r.acct.Has(cand.ID) || cand.IsRetweet() {
			continue
		}
		if cand.IsQuote() && !r.c.opts.IncludeQuoteTweets {
			continue
		}
		it := r.c.prepare(ctx, cand)
		if it.Content.IsEmpty() {
			continue
		}
		chain[cand.ID] = true
		out = append(out, it)
	}
	return out
}

// olderID compares snowflake IDs numerically without parsing them.
func olderID(a, b domain.TweetID) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (r *mappingRun) skip(ctx context.Context, id domain.TweetID, reason string) error {
	if err := r.acct.RecordSkip(ctx, id, reason); err != nil {
		return err
	}
	switch reason {
	case ledger.ReasonReply:
		r.summary.Reply++
	case ledger.ReasonRetweet:
		r.summary.Retweet++
	case ledger.ReasonQuote:
		r.summary.Quote++
	case ledger.ReasonEmpty:
		r.summary.Empty++
	}
	r.logger.Debug("skipped tweet", "tweet_id", id, "reason", reason)
	return nil
}

func (r *mappingRun) publisher(ctx context.Context) (Publisher, error) {
	if r.pub != nil {
		return r.pub, nil
	}
	if r.c.opts.DryRun {
		r.pub = NewDryRunPublisher(r.m.TwitterUsername, r.m.BlueskyHandle, r.logger)
		return r.pub, nil
	}
	p, err := r.c.publishers(ctx, r.m)
	if err != nil {
		return nil, err
	}
	r.pub = p
	return p, nil
}

// execute publishes the plan in order and records each item as soon as
// its last chunk is posted. A failed publish abandons the rest of the plan.
func (r *mappingRun) execute(ctx context.Context, plan domain.PublishPlan, items map[domain.TweetID]thread.Item, anchorParent domain.TweetID) error {
	pub, err := r.publisher(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("bluesky login failed", "error", err)
		r.summary.Err = err
		r.summary.Failed += len(items)
		return errAbortMapping
	}

	published := make([]domain.Ref, 0, len(plan.Units))
	first := 0
	for i, u := range plan.Units {
		if u.Chunk == 0 {
			first = i
		}
		if r.wrote && !r.c.opts.DryRun {
			if err := r.c.sleep(ctx, r.c.opts.PublishDelay); err != nil {
				return r.fail(ctx, plan, items, i, first, published, anchorParent, err)
			}
		}

		ref, err := pub.Publish(ctx, u, thread.ReplyFor(plan, i, published))
		if err != nil {
			return r.fail(ctx, plan, items, i, first, published, anchorParent, err)
		}
		r.wrote = true
		published = append(published, ref)

		if u.Chunk == u.ChunkCount-1 {
			if err := r.record(ctx, plan, items, first, published, anchorParent, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// fail handles a publish error at unit i. An item with chunks already
// posted is recorded as partial so that it is never posted twice.
func (r *mappingRun) fail(ctx context.Context, plan domain.PublishPlan, items map[domain.TweetID]thread.Item, i, first int, published []domain.Ref, anchorParent domain.TweetID, cause error) error {
	u := plan.Units[i]

	abandoned := domain.PublishPlan{Units: plan.Units[i:]}.ItemIDs()
	r.summary.Failed += len(abandoned)

	r.logger.Error("publish failed",
		"tweet_id", u.ItemID,
		"chunk", u.Chunk,
		"abandoned", len(abandoned),
		"error", cause,
	)

	if u.Chunk > 0 {
		// Persist even when ctx is cancelled; the chunks are already live.
		if err := r.record(context.WithoutCancel(ctx), plan, items, first, published, anchorParent, true); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if errors.Is(cause, domain.ErrRateLimited) {
		r.summary.Err = domain.NewItemError(u.ItemID, "publish", cause)
		return errAbortMapping
	}
	return nil
}

// record writes the ledger entry for the item whose first unit is at plan
// index first and whose last posted unit is the tail of published.
func (r *mappingRun) record(ctx context.Context, plan domain.PublishPlan, items map[domain.TweetID]thread.Item, first int, published []domain.Ref, anchorParent domain.TweetID, partial bool) error {
	u := plan.Units[first]
	it := items[u.ItemID]

	parentID := anchorParent
	if first > 0 {
		parentID = plan.Units[first-1].ItemID
	}

	meta := ledger.ContentMeta{
		Text:         it.Content.CleanedText,
		HasMedia:     it.Content.HasMedia(),
		MediaType:    it.Content.MediaType(),
		Chunks:       u.ChunkCount,
		ParentItemID: parentID,
	}

	if r.c.opts.DryRun {
		if err := r.acct.RecordDryRun(ctx, u.ItemID, meta); err != nil {
			return err
		}
		r.summary.DryRun++
		return nil
	}

	root := published[0]
	if plan.Anchor != nil {
		root = plan.Anchor.Root
	}
	err := r.acct.RecordPublished(ctx, u.ItemID, ledger.PublishedMeta{
		ContentMeta: meta,
		Handle:      r.pub.Handle(),
		First:       published[first],
		Last:        published[len(published)-1],
		Root:        root,
		Partial:     partial,
	})
	if err != nil {
		return err
	}
	if !partial {
		r.summary.Published++
		r.logger.Info("crossposted tweet", "tweet_id", u.ItemID, "uri", published[first].URI, "chunks", u.ChunkCount)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

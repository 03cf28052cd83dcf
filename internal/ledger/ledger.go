// Package ledger records which tweets have been crossposted or skipped so
// that no tweet is ever processed twice.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
)

// Skip reasons.
const (
	ReasonReply   = "reply"
	ReasonRetweet = "retweet"
	ReasonQuote   = "quote"
	ReasonEmpty   = "empty"
)

// Entry is the recorded outcome for one tweet. Exactly one of Skipped,
// DryRun or DestinationRef is set.
type Entry struct {
	Skipped           bool        `json:"skipped,omitempty"`
	Reason            string      `json:"reason,omitempty"`
	DryRun            bool        `json:"dryRun,omitempty"`
	DestinationRef    string      `json:"destinationRef,omitempty"`
	DestinationCID    string      `json:"destinationCid,omitempty"`
	DestinationHandle string      `json:"destinationHandle,omitempty"`
	Text              string      `json:"text,omitempty"`
	HasMedia          bool        `json:"hasMedia,omitempty"`
	MediaType         string      `json:"mediaType,omitempty"`
	Chunks            int         `json:"chunks,omitempty"`
	ParentItemID      string      `json:"parentItemId,omitempty"`
	RootRef           *domain.Ref `json:"rootRef,omitempty"`
	LastRef           *domain.Ref `json:"lastRef,omitempty"`
	Partial           bool        `json:"partial,omitempty"`
	RunID             string      `json:"runId,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

// Status describes the entry kind.
func (e Entry) Status() string {
	switch {
	case e.Skipped:
		return "skipped"
	case e.DryRun:
		return "dry_run"
	case e.Partial:
		return "partial"
	default:
		return "published"
	}
}

// Published returns true if the tweet was posted to the destination.
func (e Entry) Published() bool {
	return e.DestinationRef != ""
}

// ContentMeta describes what was (or would have been) posted for a tweet.
type ContentMeta struct {
	Text         string
	HasMedia     bool
	MediaType    string
	Chunks       int
	ParentItemID domain.TweetID
}

// PublishedMeta describes a tweet whose posts reached the destination.
type PublishedMeta struct {
	ContentMeta
	Handle string
	// First is the tweet's first post, Last its final chunk and Root the
	// head of the destination thread it belongs to.
	First   domain.Ref
	Last    domain.Ref
	Root    domain.Ref
	Partial bool
}

// Record pairs an entry with its tweet ID for listing.
type Record struct {
	ItemID domain.TweetID
	Entry  Entry
}

// Store persists ledger entries. Put must be durable before it returns.
type Store interface {
	Load(ctx context.Context) (map[string]map[domain.TweetID]Entry, error)
	Put(ctx context.Context, source string, id domain.TweetID, e Entry) error
	Close() error
}

// Ledger is the idempotency record for all source accounts. It is used by a
// single goroutine.
type Ledger struct {
	store   Store
	entries map[string]map[domain.TweetID]Entry
	runID   string
	now     func() time.Time
}

// Open opens the store selected by cfg and loads every entry.
func Open(ctx context.Context, cfg config.LedgerConfig, runID string) (*Ledger, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case config.LedgerDriverSQLite:
		store, err = OpenSQLiteStore(ctx, cfg.Path)
	case config.LedgerDriverJSON, "":
		store, err = NewJSONStore(cfg.Path), nil
	default:
		err = fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	l, err := New(ctx, store, runID)
	if err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}

// New loads a ledger from store.
func New(ctx context.Context, store Store, runID string) (*Ledger, error) {
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if entries == nil {
		entries = make(map[string]map[domain.TweetID]Entry)
	}
	return &Ledger{
		store:   store,
		entries: entries,
		runID:   runID,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// Sources lists the source usernames with recorded entries.
func (l *Ledger) Sources() []string {
	out := make([]string, 0, len(l.entries))
	for s := range l.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Account returns the ledger namespace for one source username.
func (l *Ledger) Account(source string) *Account {
	return &Account{l: l, source: source}
}

// Account is the ledger view of one source account.
type Account struct {
	l      *Ledger
	source string
}

// Source returns the source username.
func (a *Account) Source() string {
	return a.source
}

// Has reports whether the tweet already has an entry.
func (a *Account) Has(id domain.TweetID) bool {
	_, ok := a.l.entries[a.source][id]
	return ok
}

// Get returns the tweet's entry.
func (a *Account) Get(id domain.TweetID) (Entry, bool) {
	e, ok := a.l.entries[a.source][id]
	return e, ok
}

// RecordSkip records that the tweet was deliberately not posted.
func (a *Account) RecordSkip(ctx context.Context, id domain.TweetID, reason string) error {
	return a.record(ctx, id, Entry{Skipped: true, Reason: reason})
}

// RecordDryRun records what would have been posted for the tweet.
func (a *Account) RecordDryRun(ctx context.Context, id domain.TweetID, meta ContentMeta) error {
	e := contentEntry(meta)
	e.DryRun = true
	return a.record(ctx, id, e)
}

// RecordPublished records the destination posts created for the tweet.
func (a *Account) RecordPublished(ctx context.Context, id domain.TweetID, meta PublishedMeta) error {
	e := contentEntry(meta.ContentMeta)
	e.DestinationRef = meta.First.URI
	e.DestinationCID = meta.First.CID
	e.DestinationHandle = meta.Handle
	e.Partial = meta.Partial
	if !meta.Last.IsZero() {
		last := meta.Last
		e.LastRef = &last
	}
	if !meta.Root.IsZero() {
		root := meta.Root
		e.RootRef = &root
	}
	return a.record(ctx, id, e)
}

// Entries lists the account's entries, oldest first.
func (a *Account) Entries() []Record {
	m := a.l.entries[a.source]
	out := make([]Record, 0, len(m))
	for id, e := range m {
		out = append(out, Record{ItemID: id, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Entry.Timestamp.Equal(out[j].Entry.Timestamp) {
			return out[i].Entry.Timestamp.Before(out[j].Entry.Timestamp)
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func (a *Account) record(ctx context.Context, id domain.TweetID, e Entry) error {
	if a.Has(id) {
		return fmt.Errorf("%s/%s: %w", a.source, id, domain.ErrAlreadyRecorded)
	}
	e.RunID = a.l.runID
	e.Timestamp = a.l.now()

	if err := a.l.store.Put(ctx, a.source, id, e); err != nil {
		return fmt.Errorf("persist ledger entry %s/%s: %w", a.source, id, err)
	}

	m, ok := a.l.entries[a.source]
	if !ok {
		m = make(map[domain.TweetID]Entry)
		a.l.entries[a.source] = m
	}
	m[id] = e
	return nil
}

func contentEntry(meta ContentMeta) Entry {
	return Entry{
		Text:         meta.Text,
		HasMedia:     meta.HasMedia,
		MediaType:    meta.MediaType,
		Chunks:       meta.Chunks,
		ParentItemID: meta.ParentItemID.String(),
	}
}

package twitter

import (
	"encoding/json"
	"html"
	"sort"
	"time"

	"github.com/iconidentify/xcrosspost/internal/domain"
)

type userResponse struct {
	User struct {
		Result *userResult `json:"result"`
	} `json:"user"`
}

type userResult struct {
	Typename string `json:"__typename"`
	RestID   string `json:"rest_id"`
	Legacy   struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"legacy"`
	// Newer responses moved the names out of legacy.
	Core struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"core"`
}

func (u *userResult) screenName() string {
	if u.Legacy.ScreenName != "" {
		return u.Legacy.ScreenName
	}
	return u.Core.ScreenName
}

func (u *userResult) name() string {
	if u.Legacy.Name != "" {
		return u.Legacy.Name
	}
	return u.Core.Name
}

type timelineWrapper struct {
	Timeline struct {
		Instructions []instruction `json:"instructions"`
	} `json:"timeline"`
}

type userTimelineResponse struct {
	User struct {
		Result struct {
			TimelineV2 *timelineWrapper `json:"timeline_v2"`
			Timeline   *timelineWrapper `json:"timeline"`
		} `json:"result"`
	} `json:"user"`
}

func (r *userTimelineResponse) instructions() []instruction {
	if tl := r.User.Result.TimelineV2; tl != nil && len(tl.Timeline.Instructions) > 0 {
		return tl.Timeline.Instructions
	}
	if tl := r.User.Result.Timeline; tl != nil {
		return tl.Timeline.Instructions
	}
	return nil
}

type tweetDetailResponse struct {
	Conversation struct {
		Instructions []instruction `json:"instructions"`
	} `json:"threaded_conversation_with_injections_v2"`
}

type instruction struct {
	Type        string          `json:"type"`
	Entries     []timelineEntry `json:"entries"`
	ModuleItems []moduleItem    `json:"moduleItems"`
}

type timelineEntry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string       `json:"entryType"`
		ItemContent *itemContent `json:"itemContent"`
		Items       []moduleItem `json:"items"`
	} `json:"content"`
}

type moduleItem struct {
	EntryID string `json:"entryId"`
	Item    struct {
		ItemContent *itemContent `json:"itemContent"`
	} `json:"item"`
}

type itemContent struct {
	ItemType     string `json:"itemType"`
	TweetResults struct {
		Result *tweetResult `json:"result"`
	} `json:"tweet_results"`
	PromotedMetadata json.RawMessage `json:"promotedMetadata"`
}

type resultRef struct {
	Result *tweetResult `json:"result"`
}

type tweetResult struct {
	Typename string `json:"__typename"`
	RestID   string `json:"rest_id"`
	// Tweet is set for TweetWithVisibilityResults wrappers.
	Tweet     *tweetResult `json:"tweet"`
	Legacy    *tweetLegacy `json:"legacy"`
	NoteTweet *struct {
		NoteTweetResults struct {
			Result struct {
				Text      string    `json:"text"`
				EntitySet entitySet `json:"entity_set"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`
	QuotedStatusResult *resultRef `json:"quoted_status_result"`
}

type tweetLegacy struct {
	IDStr                 string     `json:"id_str"`
	FullText              string     `json:"full_text"`
	CreatedAt             string     `json:"created_at"`
	UserIDStr             string     `json:"user_id_str"`
	InReplyToStatusIDStr  string     `json:"in_reply_to_status_id_str"`
	InReplyToUserIDStr    string     `json:"in_reply_to_user_id_str"`
	IsQuoteStatus         bool       `json:"is_quote_status"`
	QuotedStatusIDStr     string     `json:"quoted_status_id_str"`
	RetweetedStatusResult *resultRef `json:"retweeted_status_result"`
	Entities              entitySet  `json:"entities"`
	ExtendedEntities      struct {
		Media []mediaJSON `json:"media"`
	} `json:"extended_entities"`
}

type entitySet struct {
	URLs []struct {
		URL         string `json:"url"`
		ExpandedURL string `json:"expanded_url"`
	} `json:"urls"`
	Media []mediaJSON `json:"media"`
}

type mediaJSON struct {
	Type          string `json:"type"`
	URL           string `json:"url"`
	ExpandedURL   string `json:"expanded_url"`
	MediaURLHTTPS string `json:"media_url_https"`
	ExtAltText    string `json:"ext_alt_text"`
	OriginalInfo  struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"original_info"`
	VideoInfo *struct {
		DurationMillis int `json:"duration_millis"`
		Variants       []struct {
			Bitrate     int    `json:"bitrate"`
			ContentType string `json:"content_type"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
}

// itemsFromInstructions collects the tweets in a timeline response, newest
// first. When authorID is set, tweets by other accounts are dropped.
// Promoted tweets are always dropped.
func itemsFromInstructions(instructions []instruction, authorID string) []domain.SourceItem {
	seen := make(map[domain.TweetID]bool)
	var items []domain.SourceItem

	add := func(ic *itemContent) {
		if ic == nil || len(ic.PromotedMetadata) > 0 {
			return
		}
		item, ok := toSourceItem(ic.TweetResults.Result)
		if !ok || seen[item.ID] {
			return
		}
		if authorID != "" && item.AuthorID != authorID {
			return
		}
		seen[item.ID] = true
		items = append(items, item)
	}

	for _, in := range instructions {
		// Pinned entries repeat an old tweet out of order.
		if in.Type == "TimelinePinEntry" {
			continue
		}
		for _, e := range in.Entries {
			add(e.Content.ItemContent)
			for _, mi := range e.Content.Items {
				add(mi.Item.ItemContent)
			}
		}
		for _, mi := range in.ModuleItems {
			add(mi.Item.ItemContent)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return newerID(items[i].ID, items[j].ID)
	})
	return items
}

// newerID compares snowflake IDs numerically without parsing them.
func newerID(a, b domain.TweetID) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

func toSourceItem(r *tweetResult) (domain.SourceItem, bool) {
	if r != nil && r.Tweet != nil {
		r = r.Tweet
	}
	if r == nil || r.Legacy == nil {
		return domain.SourceItem{}, false
	}
	lg := r.Legacy

	id := r.RestID
	if id == "" {
		id = lg.IDStr
	}
	if id == "" {
		return domain.SourceItem{}, false
	}

	item := domain.SourceItem{
		ID:       domain.TweetID(id),
		AuthorID: lg.UserIDStr,
		Text:     lg.FullText,
		Retweet:  lg.RetweetedStatusResult != nil,
	}
	if t, err := time.Parse(time.RubyDate, lg.CreatedAt); err == nil {
		item.CreatedAt = t
	}

	urls := lg.Entities.URLs
	if r.NoteTweet != nil {
		note := r.NoteTweet.NoteTweetResults.Result
		if note.Text != "" {
			item.Text = note.Text
			urls = append(note.EntitySet.URLs, urls...)
		}
	}
	item.Text = html.UnescapeString(item.Text)

	seenURL := make(map[string]bool)
	for _, u := range urls {
		if u.URL == "" || seenURL[u.URL] {
			continue
		}
		seenURL[u.URL] = true
		item.URLs = append(item.URLs, domain.URLEntity{ShortURL: u.URL, ExpandedURL: u.ExpandedURL})
	}

	media := lg.ExtendedEntities.Media
	if len(media) == 0 {
		media = lg.Entities.Media
	}
	for _, m := range media {
		item.Media = append(item.Media, toMediaEntity(m))
	}

	if lg.InReplyToStatusIDStr != "" {
		item.ReplyTo = &domain.ReplyTarget{
			StatusID: domain.TweetID(lg.InReplyToStatusIDStr),
			UserID:   lg.InReplyToUserIDStr,
		}
	}

	quoted := lg.QuotedStatusIDStr
	if quoted == "" && lg.IsQuoteStatus && r.QuotedStatusResult != nil {
		if q := r.QuotedStatusResult.Result; q != nil {
			if q.Tweet != nil {
				q = q.Tweet
			}
			quoted = q.RestID
		}
	}
	if quoted != "" {
		qid := domain.TweetID(quoted)
		item.QuotedID = &qid
	}

	return item, true
}

func toMediaEntity(m mediaJSON) domain.MediaEntity {
	me := domain.MediaEntity{
		Type:        domain.MediaType(m.Type),
		ShortURL:    m.URL,
		ExpandedURL: m.ExpandedURL,
		MediaURL:    m.MediaURLHTTPS,
		Width:       m.OriginalInfo.Width,
		Height:      m.OriginalInfo.Height,
		AltText:     m.ExtAltText,
	}
	if m.VideoInfo != nil {
		me.DurationMs = m.VideoInfo.DurationMillis
		for _, v := range m.VideoInfo.Variants {
			me.Variants = append(me.Variants, domain.VideoVariant{
				Bitrate:     v.Bitrate,
				ContentType: v.ContentType,
				URL:         v.URL,
			})
		}
	}
	return me
}

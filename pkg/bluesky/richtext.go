package bluesky

import (
	"regexp"
	"sort"
	"strings"

	"github.com/bluesky-social/indigo/api/bsky"
)

var (
	linkPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+`)
	// A tag needs at least one non-digit and starts the text or follows
	// whitespace.
	tagPattern = regexp.MustCompile(`(?:^|\s)([#＃]([\p{L}\p{N}\p{M}_]*[\p{L}\p{M}_][\p{L}\p{N}\p{M}_]*))`)
)

const maxTagLength = 64

// DetectFacets finds links and hashtags in text. Facet indexes are UTF-8
// byte offsets.
func DetectFacets(text string) []*bsky.RichtextFacet {
	var facets []*bsky.RichtextFacet

	for _, m := range linkPattern.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		uri := trimLinkPunctuation(text[start:end])
		end = start + len(uri)
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{ByteStart: int64(start), ByteEnd: int64(end)},
			Features: []*bsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Link: &bsky.RichtextFacet_Link{Uri: uri},
			}},
		})
	}

	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		tag := text[m[4]:m[5]]
		if len([]rune(tag)) > maxTagLength || insideLink(facets, start) {
			continue
		}
		facets = append(facets, &bsky.RichtextFacet{
			Index: &bsky.RichtextFacet_ByteSlice{ByteStart: int64(start), ByteEnd: int64(end)},
			Features: []*bsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Tag: &bsky.RichtextFacet_Tag{Tag: tag},
			}},
		})
	}

	sort.SliceStable(facets, func(i, j int) bool {
		return facets[i].Index.ByteStart < facets[j].Index.ByteStart
	})
	return facets
}

// trimLinkPunctuation drops sentence punctuation that follows a URL, and a
// closing paren with no matching open paren inside the URL.
func trimLinkPunctuation(uri string) string {
	for len(uri) > 0 {
		last := uri[len(uri)-1]
		switch {
		case strings.IndexByte(".,;:!?'\"", last) >= 0:
			uri = uri[:len(uri)-1]
		case last == ')' && strings.Count(uri, "(") < strings.Count(uri, ")"):
			uri = uri[:len(uri)-1]
		default:
			return uri
		}
	}
	return uri
}

func insideLink(facets []*bsky.RichtextFacet, pos int) bool {
	for _, f := range facets {
		if f.Features[0].RichtextFacet_Link == nil {
			continue
		}
		if int64(pos) >= f.Index.ByteStart && int64(pos) < f.Index.ByteEnd {
			return true
		}
	}
	return false
}

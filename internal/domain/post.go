package domain

// MediaKind tags which variant of a MediaPlan is populated.
type MediaKind string

const (
	MediaKindImages MediaKind = "images"
	MediaKindVideo  MediaKind = "video"
)

// MaxImagesPerPost is the destination limit on images in one post.
const MaxImagesPerPost = 4

// MediaPlan is the media resolved for one post. Exactly one of Images or
// Video is populated, as indicated by Kind.
type MediaPlan struct {
	Kind   MediaKind
	Images []ImageAttachment
	Video  *VideoAttachment
}

// ImageAttachment is a downloaded image ready for upload.
type ImageAttachment struct {
	Data     []byte
	MimeType string
	AltText  string
	Width    int
	Height   int
}

// VideoAttachment is a downloaded video ready for upload.
type VideoAttachment struct {
	Data       []byte
	MimeType   string
	AltText    string
	DurationMs int
	Width      int
	Height     int
}

// LinkCard is an external link preview built from page metadata.
type LinkCard struct {
	URI         string
	Title       string
	Description string
	Thumb       *Thumbnail
}

// Thumbnail is a downloaded link card preview image.
type Thumbnail struct {
	Data     []byte
	MimeType string
}

// NormalizedContent is everything derived from a SourceItem that is needed
// to publish it. ExternalLink and LinkCard are only set when Media is nil.
type NormalizedContent struct {
	CleanedText  string
	ExternalLink string
	Media        *MediaPlan
	LinkCard     *LinkCard
}

// HasMedia returns true if the content carries a media plan.
func (c NormalizedContent) HasMedia() bool {
	return c.Media != nil
}

// MediaType returns the ledger label for the attached media, or "" when
// there is none.
func (c NormalizedContent) MediaType() string {
	if c.Media == nil {
		return ""
	}
	return string(c.Media.Kind)
}

// IsEmpty returns true when there is nothing to publish.
func (c NormalizedContent) IsEmpty() bool {
	return c.CleanedText == "" && c.Media == nil && c.LinkCard == nil
}

// Embed is the attachment carried by a single destination post.
type Embed struct {
	Media *MediaPlan
	Link  *LinkCard
}

// Ref is a strong reference to a published destination post.
type Ref struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// IsZero returns true if the ref points nowhere.
func (r Ref) IsZero() bool {
	return r.URI == ""
}

// ReplyRef places a post inside a destination thread.
type ReplyRef struct {
	Root   Ref
	Parent Ref
}

// PublishUnit is one destination post.
type PublishUnit struct {
	ItemID     TweetID
	Chunk      int
	ChunkCount int
	Text       string
	Embed      *Embed
	// Parent is the plan index of the unit this one replies to, or -1 when
	// the unit opens the plan.
	Parent int
}

// PublishPlan is the ordered sequence of posts for a root item and its
// thread continuations.
type PublishPlan struct {
	Units []PublishUnit
	// Anchor is set when the plan continues a thread published earlier.
	Anchor *ReplyRef
}

// ItemIDs returns the distinct items covered by the plan, in plan order.
func (p PublishPlan) ItemIDs() []TweetID {
	var ids []TweetID
	for _, u := range p.Units {
		if len(ids) == 0 || ids[len(ids)-1] != u.ItemID {
			ids = append(ids, u.ItemID)
		}
	}
	return ids
}

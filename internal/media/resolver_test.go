package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/iconidentify/xcrosspost/internal/config"
	"github.com/iconidentify/xcrosspost/internal/domain"
	"github.com/iconidentify/xcrosspost/internal/downloader"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testLimits() config.MediaConfig {
	return config.MediaConfig{
		MaxImageBytes:    2_000_000,
		MaxVideoBytes:    100 * 1024 * 1024,
		MaxVideoDuration: 180 * time.Second,
	}
}

// fakeFile is a canned download. size overrides len(data) for limit checks
// and is what a HEAD request reports unless unreported is set.
type fakeFile struct {
	data        []byte
	size        int64
	contentType string
	err         error
	unreported  bool
}

type fakeDownloader struct {
	files   map[string]fakeFile
	fetched []string
	heads  []string
}

func (f *fakeDownloader) Fetch(_ context.Context, url string, maxBytes int64) (*downloader.Result, error) {
	f.fetched = append(f.fetched, url)
	file, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", url, domain.ErrURLExpired)
	}
	if file.err != nil {
		return nil, file.err
	}
	size := file.size
	if size == 0 {
		size = int64(len(file.data))
	}
	if maxBytes > 0 && size > maxBytes {
		return nil, fmt.Errorf("download %s: %w", url, domain.ErrTooLarge)
	}
	return &downloader.Result{Data: file.data, ContentType: file.contentType, FinalURL: url}, nil
}

func (f *fakeDownloader) Head(_ context.Context, url string) (*downloader.HeadResult, error) {
	f.heads = append(f.heads, url)
	file, ok := f.files[url]
	if !ok {
		return &downloader.HeadResult{Accessible: false, Error: "status code 404"}, nil
	}
	length := file.size
	if length == 0 {
		length = int64(len(file.data))
	}
	if file.unreported {
		length = -1
	}
	return &downloader.HeadResult{Accessible: true, ContentLength: length, ContentType: file.contentType}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func photo(n int) domain.MediaEntity {
	return domain.MediaEntity{
		Type:     domain.MediaTypePhoto,
		ShortURL: fmt.Sprintf("https://t.co/img%d", n),
		MediaURL: fmt.Sprintf("https://img.example/%d.png", n),
		AltText:  fmt.Sprintf("alt %d", n),
	}
}

func mockVideo() domain.MediaEntity {
	return domain.MediaEntity{
		Type:        domain.MediaTypeVideo,
		ShortURL:    "https://t.co/xyz123",
		ExpandedURL: "https://x.com/username/status/123/video/1",
		MediaURL:    "https://pbs.twimg.com/ext_tw_video_thumb/123/pu/img/xyz.jpg",
		DurationMs:  30000,
		Variants: []domain.VideoVariant{
			{Bitrate: 832000, ContentType: "video/mp4", URL: "https://video.twimg.com/ext_tw_video/123/pu/vid/640x360/video.mp4"},
			{Bitrate: 2176000, ContentType: "video/mp4", URL: "https://video.twimg.com/ext_tw_video/123/pu/vid/1280x720/video.mp4"},
			{Bitrate: 288000, ContentType: "video/mp4", URL: "https://video.twimg.com/ext_tw_video/123/pu/vid/480x270/video.mp4"},
			{ContentType: "application/x-mpegURL", URL: "https://video.twimg.com/ext_tw_video/123/pu/pl/playlist.m3u8"},
		},
	}
}

const bestVideoURL = "https://video.twimg.com/ext_tw_video/123/pu/vid/1280x720/video.mp4"

func TestResolver_SingleImage(t *testing.T) {
	dl := &fakeDownloader{files: map[string]fakeFile{
		"https://img.example/1.png": {data: pngBytes(t, 40, 20), contentType: "image/png"},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	plan := r.Resolve(context.Background(), []domain.MediaEntity{photo(1)})
	if plan == nil {
		t.Fatal("Resolve() = nil, want images plan")
	}
	if plan.Kind != domain.MediaKindImages || len(plan.Images) != 1 {
		t.Fatalf("plan = %+v, want 1 image", plan)
	}
	img := plan.Images[0]
	if img.Width != 40 || img.Height != 20 {
		t.Errorf("dimensions = %dx%d, want 40x20", img.Width, img.Height)
	}
	if img.MimeType != "image/png" {
		t.Errorf("MimeType = %q, want image/png", img.MimeType)
	}
	if img.AltText != "alt 1" {
		t.Errorf("AltText = %q, want alt 1", img.AltText)
	}
}

func TestResolver_FourImages(t *testing.T) {
	files := map[string]fakeFile{}
	var media []domain.MediaEntity
	for i := 1; i <= 4; i++ {
		files[fmt.Sprintf("https://img.example/%d.png", i)] = fakeFile{data: pngBytes(t, 10*i, 10)}
		media = append(media, photo(i))
	}
	r := NewResolver(&fakeDownloader{files: files}, testLimits(), testLogger())

	plan := r.Resolve(context.Background(), media)
	if plan == nil || len(plan.Images) != 4 {
		t.Fatalf("Resolve() = %+v, want 4 images", plan)
	}
	for i, img := range plan.Images {
		if img.Width != 10*(i+1) {
			t.Errorf("image %d width = %d, want %d (order preserved)", i, img.Width, 10*(i+1))
		}
	}
}

func TestResolver_PartialImageFailure(t *testing.T) {
	dl := &fakeDownloader{files: map[string]fakeFile{
		"https://img.example/1.png": {data: pngBytes(t, 5, 5)},
		"https://img.example/3.png": {data: pngBytes(t, 5, 5)},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	plan := r.Resolve(context.Background(), []domain.MediaEntity{photo(1), photo(2), photo(3)})
	if plan == nil || len(plan.Images) != 2 {
		t.Fatalf("Resolve() = %+v, want 2 images", plan)
	}
}

func TestResolver_AllImagesFail(t *testing.T) {
	r := NewResolver(&fakeDownloader{}, testLimits(), testLogger())

	if plan := r.Resolve(context.Background(), []domain.MediaEntity{photo(1), photo(2)}); plan != nil {
		t.Errorf("Resolve() = %+v, want nil", plan)
	}
}

func TestResolver_MoreThanFourImages(t *testing.T) {
	dl := &fakeDownloader{}
	r := NewResolver(dl, testLimits(), testLogger())

	var media []domain.MediaEntity
	for i := 1; i <= 5; i++ {
		media = append(media, photo(i))
	}
	if plan := r.Resolve(context.Background(), media); plan != nil {
		t.Errorf("Resolve() = %+v, want nil for 5 images", plan)
	}
	if len(dl.fetched) != 0 {
		t.Errorf("fetched %v, want no downloads", dl.fetched)
	}
}

func TestResolver_ImageDimensionFallback(t *testing.T) {
	declared := photo(1)
	declared.Width, declared.Height = 1200, 800
	undeclared := photo(2)

	dl := &fakeDownloader{files: map[string]fakeFile{
		"https://img.example/1.png": {data: []byte("not an image"), contentType: "image/jpeg"},
		"https://img.example/2.png": {data: []byte("still not an image"), contentType: "image/jpeg"},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	plan := r.Resolve(context.Background(), []domain.MediaEntity{declared, undeclared})
	if plan == nil || len(plan.Images) != 2 {
		t.Fatalf("Resolve() = %+v, want 2 images", plan)
	}
	if got := plan.Images[0]; got.Width != 1200 || got.Height != 800 {
		t.Errorf("declared fallback = %dx%d, want 1200x800", got.Width, got.Height)
	}
	if got := plan.Images[1]; got.Width != got.Height || got.Width == 0 {
		t.Errorf("square fallback = %dx%d, want a square", got.Width, got.Height)
	}
	if plan.Images[0].MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg from Content-Type", plan.Images[0].MimeType)
	}
}

func TestResolver_OversizeImageFallsBackToSmallerRendition(t *testing.T) {
	p := photo(1)
	p.MediaURL = "https://pbs.twimg.com/media/abc.jpg"
	dl := &fakeDownloader{files: map[string]fakeFile{
		"https://pbs.twimg.com/media/abc.jpg?name=large":  {data: []byte("x"), size: 5_000_000},
		"https://pbs.twimg.com/media/abc.jpg?name=medium": {data: pngBytes(t, 8, 6)},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	plan := r.Resolve(context.Background(), []domain.MediaEntity{p})
	if plan == nil || len(plan.Images) != 1 {
		t.Fatalf("Resolve() = %+v, want 1 image", plan)
	}
	if plan.Images[0].Width != 8 {
		t.Errorf("Width = %d, want 8 from medium rendition", plan.Images[0].Width)
	}
}

func TestResolver_VideoSelectsHighestBitrate(t *testing.T) {
	dl := &fakeDownloader{files: map[string]fakeFile{
		bestVideoURL: {data: []byte("mp4 data")},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	plan := r.Resolve(context.Background(), []domain.MediaEntity{mockVideo()})
	if plan == nil || plan.Kind != domain.MediaKindVideo {
		t.Fatalf("Resolve() = %+v, want video plan", plan)
	}
	if len(dl.fetched) != 1 || dl.fetched[0] != bestVideoURL {
		t.Errorf("fetched %v, want only %s", dl.fetched, bestVideoURL)
	}
	v := plan.Video
	if v.Width != 1280 || v.Height != 720 {
		t.Errorf("geometry = %dx%d, want 1280x720 from URL", v.Width, v.Height)
	}
	if v.DurationMs != 30000 || v.MimeType != "video/mp4" {
		t.Errorf("video = %+v", v)
	}
}

func TestResolver_VideoTooLarge(t *testing.T) {
	dl := &fakeDownloader{files: map[string]fakeFile{
		bestVideoURL: {data: []byte("x"), size: 150 * 1024 * 1024},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	if plan := r.Resolve(context.Background(), []domain.MediaEntity{mockVideo()}); plan != nil {
		t.Errorf("Resolve() = %+v, want nil for 150MB video", plan)
	}
	if len(dl.heads) != 1 || dl.heads[0] != bestVideoURL {
		t.Errorf("heads = %v, want one HEAD for %s", dl.heads, bestVideoURL)
	}
	if len(dl.fetched) != 0 {
		t.Errorf("fetched %v, want no GET once the reported size is over the cap", dl.fetched)
	}
}

func TestResolver_VideoUnreportedSizeStillCapped(t *testing.T) {
	dl := &fakeDownloader{files: map[string]fakeFile{
		bestVideoURL: {data: []byte("x"), size: 150 * 1024 * 1024, unreported: true},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	if plan := r.Resolve(context.Background(), []domain.MediaEntity{mockVideo()}); plan != nil {
		t.Errorf("Resolve() = %+v, want nil for 150MB video", plan)
	}
	if len(dl.fetched) != 1 {
		t.Errorf("fetched %v, want the capped GET when HEAD reports no length", dl.fetched)
	}
}

func TestResolver_VideoTooLong(t *testing.T) {
	v := mockVideo()
	v.DurationMs = 181000
	dl := &fakeDownloader{files: map[string]fakeFile{bestVideoURL: {data: []byte("x")}}}
	r := NewResolver(dl, testLimits(), testLogger())

	if plan := r.Resolve(context.Background(), []domain.MediaEntity{v}); plan != nil {
		t.Errorf("Resolve() = %+v, want nil for 181s video", plan)
	}
	if len(dl.fetched) != 0 {
		t.Errorf("fetched %v, want no download for overlong video", dl.fetched)
	}
}

func TestResolver_VideoGeometryFallbacks(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"declared size", 720, 1280, 720, 1280},
		{"default", 0, 0, 1280, 720},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gif := domain.MediaEntity{
				Type:       domain.MediaTypeGIF,
				Width:      tt.width,
				Height:     tt.height,
				DurationMs: 5000,
				Variants:   []domain.VideoVariant{{ContentType: "video/mp4", URL: "https://video.twimg.com/tweet_video/xyz.mp4"}},
			}
			dl := &fakeDownloader{files: map[string]fakeFile{
				"https://video.twimg.com/tweet_video/xyz.mp4": {data: []byte("gif mp4")},
			}}
			r := NewResolver(dl, testLimits(), testLogger())

			plan := r.Resolve(context.Background(), []domain.MediaEntity{gif})
			if plan == nil || plan.Video == nil {
				t.Fatalf("Resolve() = %+v, want video plan", plan)
			}
			if plan.Video.Width != tt.wantW || plan.Video.Height != tt.wantH {
				t.Errorf("geometry = %dx%d, want %dx%d", plan.Video.Width, plan.Video.Height, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResolver_VideoWithoutMP4(t *testing.T) {
	v := mockVideo()
	v.Variants = v.Variants[3:]
	r := NewResolver(&fakeDownloader{}, testLimits(), testLogger())

	if plan := r.Resolve(context.Background(), []domain.MediaEntity{v}); plan != nil {
		t.Errorf("Resolve() = %+v, want nil without mp4 variants", plan)
	}
}

func TestResolver_VideoDownloadError(t *testing.T) {
	dl := &fakeDownloader{files: map[string]fakeFile{
		bestVideoURL: {err: errors.New("connection reset")},
	}}
	r := NewResolver(dl, testLimits(), testLogger())

	if plan := r.Resolve(context.Background(), []domain.MediaEntity{mockVideo()}); plan != nil {
		t.Errorf("Resolve() = %+v, want nil", plan)
	}
}

func TestResolver_NoMedia(t *testing.T) {
	r := NewResolver(&fakeDownloader{}, testLimits(), testLogger())
	if plan := r.Resolve(context.Background(), nil); plan != nil {
		t.Errorf("Resolve(nil) = %+v, want nil", plan)
	}
}

func TestDimensionsFromURL(t *testing.T) {
	tests := []struct {
		url          string
		wantW, wantH int
		wantOK       bool
	}{
		{"https://video.twimg.com/ext_tw_video/1/pu/vid/1280x720/a.mp4", 1280, 720, true},
		{"https://video.twimg.com/amplify_video/1/vid/avc1/720x1280/b.mp4?tag=14", 720, 1280, true},
		{"https://video.twimg.com/tweet_video/xyz.mp4", 0, 0, false},
	}

	for _, tt := range tests {
		w, h, ok := dimensionsFromURL(tt.url)
		if w != tt.wantW || h != tt.wantH || ok != tt.wantOK {
			t.Errorf("dimensionsFromURL(%q) = %d, %d, %v", tt.url, w, h, ok)
		}
	}
}

func TestImageCandidates(t *testing.T) {
	got := imageCandidates("https://pbs.twimg.com/media/abc.jpg")
	if len(got) != 3 || got[0] != "https://pbs.twimg.com/media/abc.jpg?name=large" {
		t.Errorf("imageCandidates(pbs) = %v", got)
	}
	if got := imageCandidates("https://img.example/a.png"); len(got) != 1 {
		t.Errorf("imageCandidates(other) = %v, want one URL", got)
	}
	if got := imageCandidates(""); got != nil {
		t.Errorf("imageCandidates(\"\") = %v, want nil", got)
	}
}

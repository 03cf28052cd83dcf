package media

import (
	"bytes"
	"image"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	// Image decoders used by DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Fallback geometry when nothing better is known.
const (
	defaultVideoWidth  = 1280
	defaultVideoHeight = 720
	squareSide         = 1
)

var dimensionRe = regexp.MustCompile(`/(\d+)x(\d+)/`)

// decodeImageInfo reads pixel dimensions and format from encoded image bytes.
func decodeImageInfo(data []byte) (width, height int, mimeType string, ok bool) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, "", false
	}
	return cfg.Width, cfg.Height, "image/" + format, true
}

// dimensionsFromURL extracts WxH from video URLs like .../vid/1280x720/a.mp4.
func dimensionsFromURL(u string) (width, height int, ok bool) {
	m := dimensionRe.FindStringSubmatch(u)
	if m == nil {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// mimeTypeOf prefers a specific response Content-Type and falls back to
// sniffing the bytes.
func mimeTypeOf(contentType string, data []byte, prefix string) string {
	ct := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if strings.HasPrefix(ct, prefix) {
		return ct
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, prefix) {
		return sniffed
	}
	return ""
}

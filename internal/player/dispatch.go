package player

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/manifest"
)

// Source is what Sniff learned about a source server response.
type Source struct {
	Kind      domain.SourceKind `json:"kind"`
	Qualities []domain.Quality  `json:"qualities,omitempty"`
	EmbedURL  string            `json:"embedUrl,omitempty"`
}

var iframeSrcRe = regexp.MustCompile(`(?is)<iframe[^>]*\ssrc\s*=\s*["']([^"']+)["']`)

type sourceList struct {
	Sources []sourceEntry `json:"sources"`
	Embed   string        `json:"embed"`
}

type sourceEntry struct {
	URL     string `json:"url"`
	File    string `json:"file"`
	Src     string `json:"src"`
	Label   string `json:"label"`
	Quality string `json:"quality"`
	Type    string `json:"type"`
}

func (e sourceEntry) location() string {
	for _, v := range []string{e.URL, e.File, e.Src} {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (e sourceEntry) label() string {
	if e.Label != "" {
		return e.Label
	}
	return e.Quality
}

// Sniff inspects a source response and picks the controller variant for it.
// baseURL is the address the body was fetched from.
func Sniff(contentType string, body []byte, baseURL string) (Source, error) {
	trimmed := bytes.TrimSpace(body)
	ct := strings.ToLower(contentType)

	switch {
	case bytes.HasPrefix(trimmed, []byte("#EXTM3U")):
		return sniffManifest(string(trimmed), baseURL)
	case strings.Contains(ct, "json") || bytes.HasPrefix(trimmed, []byte("{")):
		return sniffJSON(trimmed, baseURL)
	case strings.Contains(ct, "html") || bytes.Contains(bytes.ToLower(trimmed), []byte("<iframe")):
		if m := iframeSrcRe.FindSubmatch(trimmed); m != nil {
			return Source{Kind: domain.SourceEmbedded, EmbedURL: resolveRef(baseURL, string(m[1]))}, nil
		}
	}
	return Source{}, fmt.Errorf("%w: unrecognised source response", domain.ErrReplaceFailed)
}

func sniffManifest(body, baseURL string) (Source, error) {
	pl, err := manifest.Parse(body, baseURL)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", domain.ErrReplaceFailed, err)
	}
	src := Source{Kind: domain.SourceStreaming}
	if !pl.IsMaster() {
		src.Qualities = []domain.Quality{{Label: "auto", URL: baseURL}}
		return src, nil
	}
	for _, v := range pl.Variants {
		src.Qualities = append(src.Qualities, domain.Quality{Label: v.Label(), URL: v.URL, Height: v.Height})
	}
	return src, nil
}

func sniffJSON(body []byte, baseURL string) (Source, error) {
	var list sourceList
	if err := json.Unmarshal(body, &list); err != nil {
		return Source{}, fmt.Errorf("%w: %v", domain.ErrReplaceFailed, err)
	}
	var streaming, direct []domain.Quality
	for i, e := range list.Sources {
		loc := e.location()
		if loc == "" {
			continue
		}
		q := domain.Quality{Label: e.label(), URL: resolveRef(baseURL, loc)}
		q.Height = heightOf(q.Label)
		if q.Label == "" {
			q.Label = "source " + strconv.Itoa(i+1)
		}
		if isManifestURL(q.URL) || strings.Contains(strings.ToLower(e.Type), "mpegurl") {
			streaming = append(streaming, q)
		} else {
			direct = append(direct, q)
		}
	}
	switch {
	case len(streaming) > 0:
		return Source{Kind: domain.SourceStreaming, Qualities: streaming}, nil
	case len(direct) > 0:
		return Source{Kind: domain.SourceDirect, Qualities: direct}, nil
	case strings.TrimSpace(list.Embed) != "":
		return Source{Kind: domain.SourceEmbedded, EmbedURL: resolveRef(baseURL, strings.TrimSpace(list.Embed))}, nil
	}
	return Source{}, fmt.Errorf("%w: no playable sources listed", domain.ErrReplaceFailed)
}

func isManifestURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".m3u8")
}

func heightOf(label string) int {
	l := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(label)), "p")
	h, err := strconv.Atoi(l)
	if err != nil || h <= 0 {
		return 0
	}
	return h
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Package manifest parses segmented-stream playlists and rewrites segment URLs
// so they carry the short-lived auth parameters of the manifest they came from.
package manifest

import (
	"bufio"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

var ErrEmptyManifest = errors.New("manifest has no segments")

// Variant is one entry of a master playlist.
type Variant struct {
	URL       string
	Bandwidth int64
	Width     int
	Height    int
	Name      string
}

// Label is the quality label shown to the user, e.g. "720p".
func (v Variant) Label() string {
	if v.Name != "" {
		return v.Name
	}
	if v.Height > 0 {
		return strconv.Itoa(v.Height) + "p"
	}
	if v.Bandwidth > 0 {
		return strconv.FormatInt(v.Bandwidth/1000, 10) + "k"
	}
	return "auto"
}

// Playlist is a parsed manifest. A master playlist has Variants and no Segments.
type Playlist struct {
	Segments []string
	Variants []Variant
}

func (p Playlist) IsMaster() bool {
	return len(p.Variants) > 0
}

// Parse splits a manifest body into absolute segment or variant URLs. Comment and
// metadata lines are skipped; relative URIs resolve against base.
func Parse(body string, base string) (Playlist, error) {
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return Playlist{}, err
	}

	var (
		out     Playlist
		pending *Variant
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if attrs, ok := strings.CutPrefix(line, "#EXT-X-STREAM-INF:"); ok {
				v := parseStreamInf(attrs)
				pending = &v
			}
			continue
		}
		resolved := resolve(baseURL, line)
		if pending != nil {
			pending.URL = resolved
			out.Variants = append(out.Variants, *pending)
			pending = nil
			continue
		}
		out.Segments = append(out.Segments, resolved)
	}
	if err := scanner.Err(); err != nil {
		return Playlist{}, err
	}
	if len(out.Segments) == 0 && len(out.Variants) == 0 {
		return Playlist{}, ErrEmptyManifest
	}
	return out, nil
}

// SelectVariant returns the variant whose label matches quality, falling back
// to the highest bandwidth.
func SelectVariant(variants []Variant, quality string) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}
	quality = strings.ToLower(strings.TrimSpace(quality))
	if quality != "" {
		for _, v := range variants {
			if strings.ToLower(v.Label()) == quality {
				return v, true
			}
		}
	}
	sorted := append([]Variant(nil), variants...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bandwidth != sorted[j].Bandwidth {
			return sorted[i].Bandwidth > sorted[j].Bandwidth
		}
		return sorted[i].Height > sorted[j].Height
	})
	return sorted[0], true
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func parseStreamInf(raw string) Variant {
	var v Variant
	for key, value := range splitAttributes(raw) {
		switch key {
		case "BANDWIDTH":
			v.Bandwidth, _ = strconv.ParseInt(value, 10, 64)
		case "RESOLUTION":
			w, h, ok := strings.Cut(strings.ToLower(value), "x")
			if ok {
				v.Width, _ = strconv.Atoi(w)
				v.Height, _ = strconv.Atoi(h)
			}
		case "NAME":
			v.Name = value
		}
	}
	return v
}

// splitAttributes parses an attribute list, honouring quoted values that contain commas.
func splitAttributes(raw string) map[string]string {
	attrs := make(map[string]string)
	var (
		key, cur strings.Builder
		inQuote  bool
		inValue  bool
	)
	flush := func() {
		if key.Len() > 0 {
			attrs[strings.ToUpper(strings.TrimSpace(key.String()))] = strings.Trim(strings.TrimSpace(cur.String()), `"`)
		}
		key.Reset()
		cur.Reset()
		inValue = false
	}
	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			flush()
		case r == '=' && !inValue:
			inValue = true
		case inValue:
			cur.WriteRune(r)
		default:
			key.WriteRune(r)
		}
	}
	flush()
	return attrs
}

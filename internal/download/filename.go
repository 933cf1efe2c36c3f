package download

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"watchcompanion/internal/domain"
)

const DefaultFilenameTemplate = "{title} - {episode} [{quality}] [{fansub}]"

var (
	emptyGroupRe   = regexp.MustCompile(`\s*(\[\s*\]|\(\s*\))`)
	spaceRunRe     = regexp.MustCompile(`\s+`)
	forbiddenChars = `<>:"/\|?*`
)

// RenderFilename expands the {title}, {episode}, {quality}, {fansub} and {source}
// tokens of template and returns a filesystem-safe name ending in ext.
func RenderFilename(template string, job domain.DownloadJob, ext string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultFilenameTemplate
	}
	episode := ""
	if job.EpisodeNumber > 0 {
		episode = fmt.Sprintf("%02d", job.EpisodeNumber)
	}
	r := strings.NewReplacer(
		"{title}", job.Title,
		"{episode}", episode,
		"{quality}", job.Quality,
		"{fansub}", strings.Join(job.Fansubs, ", "),
		"{source}", job.SourceTag,
	)
	name := r.Replace(template)
	name = emptyGroupRe.ReplaceAllString(name, "")
	name = sanitize(name)
	name = strings.Trim(name, " .-")
	if name == "" {
		name = "episode"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}

func sanitize(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(forbiddenChars, r) {
			return '_'
		}
		return r
	}, name)
	return spaceRunRe.ReplaceAllString(strings.TrimSpace(name), " ")
}

// extensionFor picks the saved file extension from the source URL.
func extensionFor(rawURL string, segmented bool) string {
	if segmented {
		return ".ts"
	}
	clean := rawURL
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	ext := strings.ToLower(path.Ext(clean))
	if ext == "" || len(ext) > 5 {
		return ".mp4"
	}
	return ext
}

package douyin

import (
	"path"
	"regexp"
	"strings"
)

// MediaRef is one fetchable media location of a work
type MediaRef struct {
	URL string
	Ext string
	// Optional refs (cover art) may fail without failing the item
	Optional bool
}

var hashtagPattern = regexp.MustCompile(`#([^\s#]+)`)

// VideoPlayURL picks the best playable URL of a video, preferring
// unwatermarked candidates the way the web player does
func (a *Aweme) VideoPlayURL() string {
	var fallback string
	for _, candidate := range a.Video.PlayAddr.URLList {
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, "watermark=0") {
			return candidate
		}
		if fallback == "" {
			fallback = candidate
		}
	}
	return fallback
}

// MediaRefs returns the ordered fetchable media of a work: one video ref
// or every image of a gallery in original order, followed by the
// optional extras (cover art, background track) when enabled. Empty
// when no usable primary source exists.
func (a *Aweme) MediaRefs(includeCover, includeMusic bool) []MediaRef {
	var refs []MediaRef

	if a.IsGallery() {
		for _, image := range a.GalleryImages() {
			if len(image.URLList) == 0 || image.URLList[0] == "" {
				continue
			}
			refs = append(refs, MediaRef{
				URL: image.URLList[0],
				Ext: extFromURL(image.URLList[0], ".jpg"),
			})
		}
	} else {
		playURL := a.VideoPlayURL()
		if playURL == "" {
			return nil
		}
		refs = append(refs, MediaRef{URL: playURL, Ext: ".mp4"})

		if includeCover {
			if coverURL := a.Video.Cover.First(); coverURL != "" {
				refs = append(refs, MediaRef{
					URL:      coverURL,
					Ext:      extFromURL(coverURL, ".jpg"),
					Optional: true,
				})
			}
		}
	}

	if len(refs) == 0 {
		return nil
	}

	if includeMusic {
		if musicURL := a.Music.PlayURL.First(); musicURL != "" {
			refs = append(refs, MediaRef{
				URL:      musicURL,
				Ext:      extFromURL(musicURL, ".mp3"),
				Optional: true,
			})
		}
	}

	return refs
}

// Tags collects hashtags from the work's annotations and description,
// deduplicated in first-seen order
func (a *Aweme) Tags() []string {
	var tags []string
	seen := make(map[string]bool)

	appendTag := func(raw string) {
		tag := strings.TrimPrefix(strings.TrimSpace(raw), "#")
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	for _, extra := range a.TextExtra {
		appendTag(extra.HashtagName)
	}
	for _, match := range hashtagPattern.FindAllStringSubmatch(a.Desc, -1) {
		appendTag(match[1])
	}

	return tags
}

// extFromURL extracts the file extension from a media URL path
func extFromURL(rawURL, fallback string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if ext := path.Ext(trimmed); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return fallback
}

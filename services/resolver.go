// Package services provides external service integrations: content
// providers, chapter metadata, and network policy.
package services

import (
	"strings"

	"alfurqan/models"
)

// ContentResolver builds concrete fetchable URLs for one audio variant.
// One implementation exists per provider kind; the right one is selected
// from the variant's URLKind, which was classified when the variant was
// constructed.
type ContentResolver interface {
	// VerseURL returns the URL of one verse's audio file. ok is false when
	// the provider has no verse-granular content and the legacy
	// whole-chapter URL should be used instead.
	VerseURL(chapter, verse int) (url string, ok bool)

	// ChapterURL returns the whole-chapter audio URL.
	ChapterURL(chapter int) string
}

// ResolverFor selects the resolver implementation for a variant
func ResolverFor(variant *models.AudioVariant) ContentResolver {
	switch variant.URLKind {
	case models.URLKindVersePattern:
		return &versePatternResolver{base: strings.TrimSuffix(variant.URLPattern, "/")}
	default:
		return &legacyChapterResolver{url: variant.URLPattern}
	}
}

// versePatternResolver serves verse-by-verse providers where every verse
// lives at {base}/{SSS}{AAA}.mp3, e.g.
// https://everyayah.com/data/Husary_128kbps/001001.mp3
type versePatternResolver struct {
	base string
}

func (r *versePatternResolver) VerseURL(chapter, verse int) (string, bool) {
	return r.base + "/" + models.VerseFileName(chapter, verse), true
}

func (r *versePatternResolver) ChapterURL(chapter int) string {
	// Verse-granular providers have no single chapter file; callers fetch
	// verse by verse.
	return r.base
}

// legacyChapterResolver serves providers publishing one file per chapter.
// The variant's pattern is already the concrete chapter URL.
type legacyChapterResolver struct {
	url string
}

func (r *legacyChapterResolver) VerseURL(chapter, verse int) (string, bool) {
	return "", false
}

func (r *legacyChapterResolver) ChapterURL(chapter int) string {
	return r.url
}

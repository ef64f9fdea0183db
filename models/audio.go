// Package models defines the data structures used throughout the application.
package models

import (
	"fmt"
	"strings"
	"time"
)

// URLKind identifies which content provider scheme an AudioVariant uses.
// The kind is decided once when the variant is constructed, never re-sniffed
// per fetch.
type URLKind string

// URL kind constants
const (
	// URLKindVersePattern is a verse-by-verse provider: the pattern is a
	// folder base URL and each verse lives at {base}/{SSS}{AAA}.mp3
	URLKindVersePattern URLKind = "verse_pattern"

	// URLKindLegacyChapter is a whole-chapter provider: the pattern is the
	// full URL of a single chapter file
	URLKindLegacyChapter URLKind = "legacy_chapter"
)

// DetectURLKind classifies a URL pattern. Patterns that point at a single
// audio file are legacy whole-chapter URLs; everything else is treated as a
// verse-granular folder base.
func DetectURLKind(urlPattern string) URLKind {
	if strings.HasSuffix(urlPattern, ".mp3") || strings.HasSuffix(urlPattern, ".ogg") {
		return URLKindLegacyChapter
	}
	return URLKindVersePattern
}

// AudioVariant identifies one renderable asset for a (reciter, chapter)
// pair: a bitrate/format rendition with its remote URL pattern and, once
// downloaded, a local path (a directory for verse-granular content).
type AudioVariant struct {
	ID          int       `json:"id"`
	ReciterID   int       `json:"reciter_id"`
	Chapter     int       `json:"chapter"`
	BitrateKbps int       `json:"bitrate_kbps,omitempty"`
	Format      string    `json:"format,omitempty"`
	URLPattern  string    `json:"url_pattern"`
	URLKind     URLKind   `json:"url_kind"`
	LocalPath   string    `json:"local_path,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Reciter is the audio performer identity a recording is attributed to.
// Folder is the canonical provider folder name, e.g. "Husary_128kbps".
type Reciter struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Folder    string    `json:"folder"`
	Style     string    `json:"style,omitempty"` // Murattal, Mujawwad, Warsh
	CreatedAt time.Time `json:"created_at"`
}

// AyahIndexEntry maps (reciter, chapter, verse) to its [start_ms, end_ms)
// time range inside the chapter audio
type AyahIndexEntry struct {
	ID        int   `json:"id"`
	ReciterID int   `json:"reciter_id"`
	Chapter   int   `json:"chapter"`
	Verse     int   `json:"verse"`
	StartMs   int64 `json:"start_ms"`
	EndMs     int64 `json:"end_ms"`
}

// VerseFileName returns the canonical zero-padded verse file name,
// e.g. chapter 2 verse 286 -> "002286.mp3"
func VerseFileName(chapter, verse int) string {
	return fmt.Sprintf("%03d%03d.mp3", chapter, verse)
}

// VerseKey returns the storage key for one verse file under a reciter
// folder, with chapters kept in their own directory
func VerseKey(folder string, chapter, verse int) string {
	return fmt.Sprintf("%s/%03d/%s", folder, chapter, VerseFileName(chapter, verse))
}

// ChapterPrefix returns the storage key prefix holding all verse files of
// one chapter
func ChapterPrefix(folder string, chapter int) string {
	return fmt.Sprintf("%s/%03d/", folder, chapter)
}

// ChapterFileName returns the canonical file name of a whole-chapter
// recording from a legacy provider, e.g. chapter 1 -> "001.mp3"
func ChapterFileName(chapter int) string {
	return fmt.Sprintf("%03d.mp3", chapter)
}

// ChapterKey returns the storage key for a whole-chapter file, kept in
// the same directory the chapter's verse files would use
func ChapterKey(folder string, chapter int) string {
	return fmt.Sprintf("%s/%03d/%s", folder, chapter, ChapterFileName(chapter))
}

package models

import "time"

// DownloadTask represents one unit of acquisition work: all verse audio
// files for a single (reciter, chapter) pair.
//
// At most one non-terminal task exists per (reciter_id, chapter) key;
// re-requesting an already queued pair returns the existing task id.
type DownloadTask struct {
	ID              string     `json:"id"`
	VariantID       int        `json:"variant_id"`
	ReciterID       int        `json:"reciter_id"`
	Chapter         int        `json:"chapter"`
	Status          TaskStatus `json:"status"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	BytesTotal      int64      `json:"bytes_total,omitempty"`
	Progress        float64    `json:"progress"` // 0.0 to 1.0
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CollectionProgress summarizes how much of a reciter's full collection
// has been downloaded
type CollectionProgress struct {
	ReciterID         int `json:"reciter_id"`
	CompletedChapters int `json:"completed_chapters"`
	TotalChapters     int `json:"total_chapters"`
}

package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"alfurqan/database"
	"alfurqan/models"
)

// ErrVerseNotIndexed is returned when a verse has no timing entry.
var ErrVerseNotIndexed = errors.New("repository: verse not indexed")

// AyahIndexRepository handles verse-timing lookups. Position resolution is
// a range query against (start_ms, end_ms), not a linear scan.
type AyahIndexRepository struct {
	db *database.DB
}

// NewAyahIndexRepository creates a new ayah index repository
func NewAyahIndexRepository(db *database.DB) *AyahIndexRepository {
	return &AyahIndexRepository{db: db}
}

// BulkInsert stores timing entries for a chapter inside one transaction.
// Existing entries for the same (reciter, chapter, verse) are replaced.
func (r *AyahIndexRepository) BulkInsert(entries []models.AyahIndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO ayah_index (reciter_id, chapter, verse, start_ms, end_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(reciter_id, chapter, verse) DO UPDATE SET start_ms = excluded.start_ms, end_ms = excluded.end_ms
	`)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("Failed to rollback: %v", rbErr)
		}
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			log.Printf("Failed to close statement: %v", err)
		}
	}()

	for _, e := range entries {
		if _, err := stmt.Exec(e.ReciterID, e.Chapter, e.Verse, e.StartMs, e.EndMs); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("Failed to rollback: %v", rbErr)
			}
			return fmt.Errorf("failed to insert index entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index entries: %w", err)
	}
	return nil
}

// FindByPosition returns the verse whose [start_ms, end_ms) interval
// contains the position, or nil when the position falls in a gap
func (r *AyahIndexRepository) FindByPosition(reciterID, chapter int, positionMs int64) (*models.AyahIndexEntry, error) {
	query := `
		SELECT id, reciter_id, chapter, verse, start_ms, end_ms
		FROM ayah_index
		WHERE reciter_id = ? AND chapter = ? AND start_ms <= ? AND end_ms > ?
		LIMIT 1
	`

	var e models.AyahIndexEntry
	err := r.db.QueryRow(query, reciterID, chapter, positionMs, positionMs).Scan(
		&e.ID, &e.ReciterID, &e.Chapter, &e.Verse, &e.StartMs, &e.EndMs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve position %dms: %w", positionMs, err)
	}
	return &e, nil
}

// VerseStart returns the start timestamp of a verse, the seek target for
// verse-exact navigation
func (r *AyahIndexRepository) VerseStart(reciterID, chapter, verse int) (int64, error) {
	var startMs int64
	err := r.db.QueryRow(
		`SELECT start_ms FROM ayah_index WHERE reciter_id = ? AND chapter = ? AND verse = ?`,
		reciterID, chapter, verse,
	).Scan(&startMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrVerseNotIndexed
		}
		return 0, fmt.Errorf("failed to get verse start: %w", err)
	}
	return startMs, nil
}

// EntriesForChapter returns a chapter's timing entries ordered by verse
func (r *AyahIndexRepository) EntriesForChapter(reciterID, chapter int) ([]models.AyahIndexEntry, error) {
	query := `
		SELECT id, reciter_id, chapter, verse, start_ms, end_ms
		FROM ayah_index
		WHERE reciter_id = ? AND chapter = ?
		ORDER BY verse ASC
	`

	rows, err := r.db.Query(query, reciterID, chapter)
	if err != nil {
		return nil, fmt.Errorf("failed to query index entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var entries []models.AyahIndexEntry
	for rows.Next() {
		var e models.AyahIndexEntry
		if err := rows.Scan(&e.ID, &e.ReciterID, &e.Chapter, &e.Verse, &e.StartMs, &e.EndMs); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return entries, nil
}

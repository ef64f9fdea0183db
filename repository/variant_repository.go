package repository

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"alfurqan/database"
	"alfurqan/models"
)

// VariantRepository handles database operations for audio variants
type VariantRepository struct {
	db *database.DB
}

// NewVariantRepository creates a new variant repository
func NewVariantRepository(db *database.DB) *VariantRepository {
	return &VariantRepository{db: db}
}

const variantColumns = `id, reciter_id, chapter, bitrate_kbps, format, url_pattern, url_kind, local_path, content_hash, size_bytes, created_at, updated_at`

func scanVariant(scan func(dest ...interface{}) error) (*models.AudioVariant, error) {
	var v models.AudioVariant
	var bitrate, sizeBytes sql.NullInt64
	var format, localPath, contentHash sql.NullString

	err := scan(
		&v.ID, &v.ReciterID, &v.Chapter, &bitrate, &format,
		&v.URLPattern, &v.URLKind, &localPath, &contentHash, &sizeBytes,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if bitrate.Valid {
		v.BitrateKbps = int(bitrate.Int64)
	}
	if format.Valid {
		v.Format = format.String
	}
	if localPath.Valid {
		v.LocalPath = localPath.String
	}
	if contentHash.Valid {
		v.ContentHash = contentHash.String
	}
	if sizeBytes.Valid {
		v.SizeBytes = sizeBytes.Int64
	}
	return &v, nil
}

// Create inserts a new audio variant. The URL kind is classified here,
// once, from the URL pattern.
func (r *VariantRepository) Create(v *models.AudioVariant) error {
	if v.URLKind == "" {
		v.URLKind = models.DetectURLKind(v.URLPattern)
	}
	v.CreatedAt = time.Now()
	v.UpdatedAt = time.Now()

	query := `
		INSERT INTO audio_variants (reciter_id, chapter, bitrate_kbps, format,
									url_pattern, url_kind, local_path, content_hash, size_bytes,
									created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		v.ReciterID, v.Chapter, nullInt(v.BitrateKbps), nullString(v.Format),
		v.URLPattern, v.URLKind, nullString(v.LocalPath), nullString(v.ContentHash),
		nullInt64(v.SizeBytes), v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audio variant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	v.ID = int(id)
	return nil
}

// GetByID retrieves a variant by its id
func (r *VariantRepository) GetByID(id int) (*models.AudioVariant, error) {
	query := `SELECT ` + variantColumns + ` FROM audio_variants WHERE id = ?`

	v, err := scanVariant(r.db.QueryRow(query, id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("audio variant with id %d not found", id)
		}
		return nil, fmt.Errorf("failed to get audio variant: %w", err)
	}
	return v, nil
}

// GetForChapter returns the preferred variant for a (reciter, chapter)
// pair: the highest-bitrate one. Returns nil when no variant exists.
func (r *VariantRepository) GetForChapter(reciterID, chapter int) (*models.AudioVariant, error) {
	query := `SELECT ` + variantColumns + `
			  FROM audio_variants
			  WHERE reciter_id = ? AND chapter = ?
			  ORDER BY bitrate_kbps DESC
			  LIMIT 1`

	v, err := scanVariant(r.db.QueryRow(query, reciterID, chapter).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get variant for reciter %d chapter %d: %w", reciterID, chapter, err)
	}
	return v, nil
}

// SetLocalPath records where a variant's downloaded content lives. For
// verse-granular content this is the chapter directory, not a file.
func (r *VariantRepository) SetLocalPath(id int, localPath string) error {
	query := `UPDATE audio_variants SET local_path = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(query, localPath, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set variant local path: %w", err)
	}
	return nil
}

// ClearLocalPathForChapter clears local paths for every variant of a
// (reciter, chapter) pair after its content is deleted
func (r *VariantRepository) ClearLocalPathForChapter(reciterID, chapter int) error {
	query := `UPDATE audio_variants SET local_path = NULL, updated_at = ? WHERE reciter_id = ? AND chapter = ?`
	if _, err := r.db.Exec(query, time.Now(), reciterID, chapter); err != nil {
		return fmt.Errorf("failed to clear variant local paths: %w", err)
	}
	return nil
}

// ClearLocalPathForReciter clears local paths for all of a reciter's variants
func (r *VariantRepository) ClearLocalPathForReciter(reciterID int) error {
	query := `UPDATE audio_variants SET local_path = NULL, updated_at = ? WHERE reciter_id = ?`
	if _, err := r.db.Exec(query, time.Now(), reciterID); err != nil {
		return fmt.Errorf("failed to clear variant local paths: %w", err)
	}
	return nil
}

// GetByReciter retrieves all variants for a reciter
func (r *VariantRepository) GetByReciter(reciterID int) ([]models.AudioVariant, error) {
	query := `SELECT ` + variantColumns + ` FROM audio_variants WHERE reciter_id = ? ORDER BY chapter ASC, bitrate_kbps DESC`

	rows, err := r.db.Query(query, reciterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var variants []models.AudioVariant
	for rows.Next() {
		v, err := scanVariant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return variants, nil
}

func nullInt(i int) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

func nullInt64(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}

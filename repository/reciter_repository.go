package repository

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"alfurqan/database"
	"alfurqan/models"
)

// ReciterRepository handles the minimal reciter catalog the download core
// depends on: the provider folder name keyed by reciter id
type ReciterRepository struct {
	db *database.DB
}

// NewReciterRepository creates a new reciter repository
func NewReciterRepository(db *database.DB) *ReciterRepository {
	return &ReciterRepository{db: db}
}

// Create inserts a new reciter
func (r *ReciterRepository) Create(reciter *models.Reciter) error {
	reciter.CreatedAt = time.Now()

	result, err := r.db.Exec(
		`INSERT INTO reciters (name, folder, style, created_at) VALUES (?, ?, ?, ?)`,
		reciter.Name, reciter.Folder, nullString(reciter.Style), reciter.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reciter: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	reciter.ID = int(id)
	return nil
}

// GetByID retrieves a reciter by its id
func (r *ReciterRepository) GetByID(id int) (*models.Reciter, error) {
	var reciter models.Reciter
	var style sql.NullString

	err := r.db.QueryRow(
		`SELECT id, name, folder, style, created_at FROM reciters WHERE id = ?`, id,
	).Scan(&reciter.ID, &reciter.Name, &reciter.Folder, &style, &reciter.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("reciter with id %d not found", id)
		}
		return nil, fmt.Errorf("failed to get reciter: %w", err)
	}

	if style.Valid {
		reciter.Style = style.String
	}
	return &reciter, nil
}

// GetAll retrieves all reciters
func (r *ReciterRepository) GetAll() ([]models.Reciter, error) {
	rows, err := r.db.Query(`SELECT id, name, folder, style, created_at FROM reciters ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reciters: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var reciters []models.Reciter
	for rows.Next() {
		var reciter models.Reciter
		var style sql.NullString
		if err := rows.Scan(&reciter.ID, &reciter.Name, &reciter.Folder, &style, &reciter.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reciter: %w", err)
		}
		if style.Valid {
			reciter.Style = style.String
		}
		reciters = append(reciters, reciter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return reciters, nil
}

// Package repository provides the data access layer for the recitation
// download core.
package repository

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"alfurqan/database"
	"alfurqan/models"

	"github.com/google/uuid"
)

// TaskRepository handles database operations for download tasks.
//
// A unique index on (reciter_id, chapter) backs the registry invariant:
// at most one task row exists per pair, so concurrent fetch workers never
// write to the same key.
type TaskRepository struct {
	db *database.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *database.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, variant_id, reciter_id, chapter, status, bytes_downloaded, bytes_total, progress, error_message, created_at, updated_at`

func scanTask(scan func(dest ...interface{}) error) (*models.DownloadTask, error) {
	var task models.DownloadTask
	var errMsg sql.NullString

	err := scan(
		&task.ID, &task.VariantID, &task.ReciterID, &task.Chapter,
		&task.Status, &task.BytesDownloaded, &task.BytesTotal,
		&task.Progress, &errMsg, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if errMsg.Valid {
		task.ErrorMessage = errMsg.String
	}
	return &task, nil
}

// Create inserts a new download task. A fresh id is assigned when the task
// has none.
func (r *TaskRepository) Create(task *models.DownloadTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	task.CreatedAt = time.Now()
	task.UpdatedAt = time.Now()

	query := `
		INSERT INTO download_tasks (id, variant_id, reciter_id, chapter, status,
									bytes_downloaded, bytes_total, progress, error_message,
									created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		task.ID, task.VariantID, task.ReciterID, task.Chapter, task.Status,
		task.BytesDownloaded, task.BytesTotal, task.Progress,
		nullString(task.ErrorMessage), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create download task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by its id
func (r *TaskRepository) GetByID(id string) (*models.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks WHERE id = ?`

	task, err := scanTask(r.db.QueryRow(query, id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %s not found", id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetByReciterChapter returns the task row for a (reciter, chapter) pair,
// or nil when none exists
func (r *TaskRepository) GetByReciterChapter(reciterID, chapter int) (*models.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks WHERE reciter_id = ? AND chapter = ?`

	task, err := scanTask(r.db.QueryRow(query, reciterID, chapter).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task for reciter %d chapter %d: %w", reciterID, chapter, err)
	}
	return task, nil
}

// GetAll retrieves all tasks ordered by creation time
func (r *TaskRepository) GetAll() ([]models.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks ORDER BY created_at DESC`
	return r.queryTasks(query)
}

// GetByStatus retrieves all tasks with the given status
func (r *TaskRepository) GetByStatus(status models.TaskStatus) ([]models.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks WHERE status = ? ORDER BY created_at DESC`
	return r.queryTasks(query, status)
}

// GetByReciter retrieves all tasks for a reciter ordered by chapter
func (r *TaskRepository) GetByReciter(reciterID int) ([]models.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks WHERE reciter_id = ? ORDER BY chapter ASC`
	return r.queryTasks(query, reciterID)
}

func (r *TaskRepository) queryTasks(query string, args ...interface{}) ([]models.DownloadTask, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	var tasks []models.DownloadTask
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return tasks, nil
}

// UpdateProgress records fetch progress for a task. Called after every
// verse so observers see continuous movement.
func (r *TaskRepository) UpdateProgress(id string, bytesDownloaded, bytesTotal int64, progress float64) error {
	query := `
		UPDATE download_tasks
		SET bytes_downloaded = ?, bytes_total = ?, progress = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := r.db.Exec(query, bytesDownloaded, bytesTotal, progress, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	return nil
}

// UpdateStatus transitions a task's status, replacing any error message
func (r *TaskRepository) UpdateStatus(id string, status models.TaskStatus, errorMessage string) error {
	query := `
		UPDATE download_tasks
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := r.db.Exec(query, status, nullString(errorMessage), time.Now(), id); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// ResetPending rewinds a paused or failed task to a fresh pending state,
// keeping its id and (reciter, chapter) key
func (r *TaskRepository) ResetPending(id string, variantID int) error {
	query := `
		UPDATE download_tasks
		SET status = ?, variant_id = ?, bytes_downloaded = 0, progress = 0,
			error_message = NULL, updated_at = ?
		WHERE id = ?
	`
	if _, err := r.db.Exec(query, models.StatusPending, variantID, time.Now(), id); err != nil {
		return fmt.Errorf("failed to reset task: %w", err)
	}
	return nil
}

// Delete removes a task row. Missing rows are not an error: cancellation
// is idempotent.
func (r *TaskRepository) Delete(id string) error {
	if _, err := r.db.Exec(`DELETE FROM download_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// DeleteByReciter removes all task rows for a reciter
func (r *TaskRepository) DeleteByReciter(reciterID int) error {
	if _, err := r.db.Exec(`DELETE FROM download_tasks WHERE reciter_id = ?`, reciterID); err != nil {
		return fmt.Errorf("failed to delete tasks for reciter %d: %w", reciterID, err)
	}
	return nil
}

// CountByReciterStatus counts a reciter's tasks in the given status
func (r *TaskRepository) CountByReciterStatus(reciterID int, status models.TaskStatus) (int, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM download_tasks WHERE reciter_id = ? AND status = ?`,
		reciterID, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// Helper for handling null values
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

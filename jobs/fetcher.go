package jobs

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"alfurqan/models"
	"alfurqan/repository"
	"alfurqan/services"
	"alfurqan/storage"
)

// successThreshold is the fraction of a chapter's verses that must be
// present locally for the chapter to be accepted as completed. A few
// missing files from a flaky provider should not discard an otherwise
// usable chapter.
const successThreshold = 0.9

// VerseCounter resolves how many verses a chapter has
type VerseCounter interface {
	VerseCount(chapter int) (int, error)
}

// Fetcher materializes one chapter's per-verse audio files. Already
// present files are skipped, so resuming an interrupted chapter only
// re-attempts what is missing.
type Fetcher struct {
	tasks    *repository.TaskRepository
	variants *repository.VariantRepository
	reciters *repository.ReciterRepository
	store    *storage.AudioStore
	meta     VerseCounter
	client   *http.Client
	notify   func(models.DownloadTask)
}

// NewFetcher creates a new fetch worker
func NewFetcher(tasks *repository.TaskRepository, variants *repository.VariantRepository,
	reciters *repository.ReciterRepository, store *storage.AudioStore,
	meta VerseCounter, fetchTimeout time.Duration) *Fetcher {
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &Fetcher{
		tasks:    tasks,
		variants: variants,
		reciters: reciters,
		store:    store,
		meta:     meta,
		client: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

// SetNotify sets the callback invoked after every task state change
func (f *Fetcher) SetNotify(fn func(models.DownloadTask)) {
	f.notify = fn
}

// Run executes the fetch unit for one task. A cancelled context leaves the
// task's status to whoever cancelled it (pause sets PAUSED, cancel deletes
// the row); Run just stops fetching.
func (f *Fetcher) Run(ctx context.Context, taskID string) {
	task, err := f.tasks.GetByID(taskID)
	if err != nil {
		// Row already removed by a cancel that raced the chain.
		log.Printf("Fetch unit %s has no task row: %v", taskID, err)
		return
	}

	variant, err := f.variants.GetByID(task.VariantID)
	if err != nil {
		f.fail(taskID, fmt.Sprintf("audio variant %d missing", task.VariantID))
		return
	}
	reciter, err := f.reciters.GetByID(task.ReciterID)
	if err != nil {
		f.fail(taskID, fmt.Sprintf("reciter %d missing", task.ReciterID))
		return
	}

	if err := f.tasks.UpdateStatus(taskID, models.StatusInProgress, ""); err != nil {
		log.Printf("Failed to mark task %s in progress: %v", taskID, err)
		return
	}
	f.publish(taskID)

	verseCount, err := f.meta.VerseCount(task.Chapter)
	if err != nil {
		f.fail(taskID, fmt.Sprintf("chapter metadata unavailable: %v", err))
		return
	}

	resolver := services.ResolverFor(variant)
	if _, ok := resolver.VerseURL(task.Chapter, 1); !ok {
		f.fetchLegacyChapter(ctx, task, variant, reciter, resolver)
		return
	}

	var bytesDownloaded int64
	succeeded := 0

	for verse := 1; verse <= verseCount; verse++ {
		if ctx.Err() != nil {
			return
		}

		key := models.VerseKey(reciter.Folder, task.Chapter, verse)
		exists, err := f.store.Exists(ctx, key)
		if err != nil {
			log.Printf("Failed to probe %s, refetching: %v", key, err)
		}

		if exists {
			succeeded++
		} else {
			url, _ := resolver.VerseURL(task.Chapter, verse)
			n, err := f.fetchVerse(ctx, url, key)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Verse %d:%d fetch failed: %v", task.Chapter, verse, err)
			} else {
				bytesDownloaded += n
				succeeded++
			}
		}

		// Progress counts verses on disk, not attempts.
		progress := float64(succeeded) / float64(verseCount)
		if err := f.tasks.UpdateProgress(taskID, bytesDownloaded, 0, progress); err != nil {
			log.Printf("Failed to update progress for task %s: %v", taskID, err)
		}
		f.publish(taskID)
	}

	if float64(succeeded) >= successThreshold*float64(verseCount) {
		if succeeded < verseCount {
			log.Printf("Chapter %d accepted with %d/%d verses for reciter %d",
				task.Chapter, succeeded, verseCount, task.ReciterID)
		}
		if err := f.variants.SetLocalPath(variant.ID, f.store.ChapterDir(reciter.Folder, task.Chapter)); err != nil {
			log.Printf("Failed to set local path for variant %d: %v", variant.ID, err)
		}
		if err := f.tasks.UpdateProgress(taskID, bytesDownloaded, bytesDownloaded, 1.0); err != nil {
			log.Printf("Failed to update progress for task %s: %v", taskID, err)
		}
		if err := f.tasks.UpdateStatus(taskID, models.StatusCompleted, ""); err != nil {
			log.Printf("Failed to complete task %s: %v", taskID, err)
		}
	} else {
		f.fail(taskID, fmt.Sprintf("%d/%d downloaded", succeeded, verseCount))
	}
	f.publish(taskID)
}

// fetchLegacyChapter downloads a single whole-chapter file for providers
// without verse-granular content
func (f *Fetcher) fetchLegacyChapter(ctx context.Context, task *models.DownloadTask,
	variant *models.AudioVariant, reciter *models.Reciter, resolver services.ContentResolver) {

	url := resolver.ChapterURL(task.Chapter)
	key := models.ChapterKey(reciter.Folder, task.Chapter)

	n, err := f.fetchVerse(ctx, url, key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.fail(task.ID, fmt.Sprintf("chapter download failed: %v", err))
		f.publish(task.ID)
		return
	}

	if err := f.variants.SetLocalPath(variant.ID, f.store.ChapterDir(reciter.Folder, task.Chapter)); err != nil {
		log.Printf("Failed to set local path for variant %d: %v", variant.ID, err)
	}
	if err := f.tasks.UpdateProgress(task.ID, n, n, 1.0); err != nil {
		log.Printf("Failed to update progress for task %s: %v", task.ID, err)
	}
	if err := f.tasks.UpdateStatus(task.ID, models.StatusCompleted, ""); err != nil {
		log.Printf("Failed to complete task %s: %v", task.ID, err)
	}
	f.publish(task.ID)
}

func (f *Fetcher) fetchVerse(ctx context.Context, url, key string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	return f.store.Save(ctx, key, resp.Body)
}

func (f *Fetcher) fail(taskID, message string) {
	if err := f.tasks.UpdateStatus(taskID, models.StatusFailed, message); err != nil {
		log.Printf("Failed to mark task %s failed: %v", taskID, err)
	}
}

func (f *Fetcher) publish(taskID string) {
	if f.notify == nil {
		return
	}
	task, err := f.tasks.GetByID(taskID)
	if err != nil {
		return
	}
	f.notify(*task)
}

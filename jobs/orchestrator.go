package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"

	"alfurqan/models"
	"alfurqan/repository"
	"alfurqan/services"
	"alfurqan/storage"
)

// FetchRunner executes the fetch unit for one task id
type FetchRunner interface {
	Run(ctx context.Context, taskID string)
}

// Orchestrator decides what to fetch. It enforces at-most-one-active-task
// per (reciter, chapter) key, applies the network policy to every
// submission, and chains whole-collection jobs so chapters download one at
// a time against rate-limited providers.
//
// Callers are never blocked beyond synchronous bookkeeping: the dedup
// lookup and task row creation happen inline, fetch execution runs on the
// scheduler, and progress is observed through the task stream.
type Orchestrator struct {
	tasks    *repository.TaskRepository
	variants *repository.VariantRepository
	reciters *repository.ReciterRepository
	store    *storage.AudioStore
	sched    *Scheduler
	runner   FetchRunner
	settings services.SettingsProvider
	meta     *services.QuranMetadata

	mu      sync.Mutex
	subs    map[int]chan models.DownloadTask
	nextSub int
}

// NewOrchestrator creates the download orchestrator
func NewOrchestrator(tasks *repository.TaskRepository, variants *repository.VariantRepository,
	reciters *repository.ReciterRepository, store *storage.AudioStore,
	sched *Scheduler, runner FetchRunner, settings services.SettingsProvider,
	meta *services.QuranMetadata) *Orchestrator {
	return &Orchestrator{
		tasks:    tasks,
		variants: variants,
		reciters: reciters,
		store:    store,
		sched:    sched,
		runner:   runner,
		settings: settings,
		meta:     meta,
		subs:     make(map[int]chan models.DownloadTask),
	}
}

func collectionChain(reciterID int) string {
	return fmt.Sprintf("collection-%d", reciterID)
}

// constraints reads the network policy, once per submission
func (o *Orchestrator) constraints() Constraints {
	policy := o.settings.NetworkPolicy()
	return Constraints{
		UnmeteredOnly:      policy.UnmeteredOnly,
		MinStorageHeadroom: policy.MinStorageHeadroom,
	}
}

// RequestChapterDownload requests one chapter. A completed pair returns
// its existing task id without new work; a queued or in-progress pair
// returns the existing id without a duplicate; a paused or failed pair is
// rewound to pending and resubmitted. variantID zero picks the preferred
// (highest-bitrate) variant.
func (o *Orchestrator) RequestChapterDownload(reciterID, chapter, variantID int) (string, error) {
	variant, err := o.resolveVariant(reciterID, chapter, variantID)
	if err != nil {
		return "", err
	}

	existing, err := o.tasks.GetByReciterChapter(reciterID, chapter)
	if err != nil {
		return "", err
	}

	if existing != nil {
		if existing.Status == models.StatusCompleted {
			return existing.ID, nil
		}
		if existing.Status.IsActive() {
			return existing.ID, nil
		}
		// Paused or failed: overwrite to pending, keep the row and id.
		if err := o.tasks.ResetPending(existing.ID, variant.ID); err != nil {
			return "", err
		}
		o.publishByID(existing.ID)
		o.submitFetch(existing.ID, o.constraints())
		return existing.ID, nil
	}

	task := &models.DownloadTask{
		VariantID: variant.ID,
		ReciterID: reciterID,
		Chapter:   chapter,
		Status:    models.StatusPending,
	}
	if err := o.tasks.Create(task); err != nil {
		return "", err
	}
	o.Publish(*task)
	o.submitFetch(task.ID, o.constraints())
	return task.ID, nil
}

// RequestFullCollectionDownload queues every not-yet-completed chapter of
// a reciter as one ordered chain, ascending by chapter number. The chain
// replaces any previous chain for the same reciter. Returns the task ids
// in chain order.
func (o *Orchestrator) RequestFullCollectionDownload(reciterID int) ([]string, error) {
	c := o.constraints()

	var ids []string
	var units []Unit

	for chapter := 1; chapter <= o.meta.ChapterCount(); chapter++ {
		existing, err := o.tasks.GetByReciterChapter(reciterID, chapter)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status == models.StatusCompleted {
			continue
		}

		variant, err := o.variants.GetForChapter(reciterID, chapter)
		if err != nil {
			return nil, err
		}
		if variant == nil {
			log.Printf("No audio variant for reciter %d chapter %d, skipping", reciterID, chapter)
			continue
		}

		var id string
		if existing != nil {
			if existing.Status.IsActive() {
				o.sched.Cancel(existing.ID)
			}
			if err := o.tasks.ResetPending(existing.ID, variant.ID); err != nil {
				return nil, err
			}
			id = existing.ID
		} else {
			task := &models.DownloadTask{
				VariantID: variant.ID,
				ReciterID: reciterID,
				Chapter:   chapter,
				Status:    models.StatusPending,
			}
			if err := o.tasks.Create(task); err != nil {
				return nil, err
			}
			id = task.ID
		}

		o.publishByID(id)
		taskID := id
		units = append(units, Unit{
			Tag:         taskID,
			Constraints: c,
			Run: func(ctx context.Context) {
				o.runner.Run(ctx, taskID)
			},
		})
		ids = append(ids, id)
	}

	o.sched.SubmitChain(collectionChain(reciterID), units)
	return ids, nil
}

// Pause cancels a task's in-flight fetch and marks it paused. Unknown
// task ids and non-active tasks are no-ops.
func (o *Orchestrator) Pause(taskID string) error {
	task, err := o.tasks.GetByID(taskID)
	if err != nil {
		return nil
	}
	if !task.Status.IsActive() {
		return nil
	}

	o.sched.Cancel(taskID)
	if err := o.tasks.UpdateStatus(taskID, models.StatusPaused, ""); err != nil {
		return err
	}
	o.publishByID(taskID)
	return nil
}

// Resume re-submits a paused task as a fresh single-unit fetch, reusing
// the stored variant. Unknown ids and non-paused tasks are no-ops.
func (o *Orchestrator) Resume(taskID string) error {
	task, err := o.tasks.GetByID(taskID)
	if err != nil {
		return nil
	}
	if task.Status != models.StatusPaused {
		return nil
	}

	if err := o.tasks.UpdateStatus(taskID, models.StatusPending, ""); err != nil {
		return err
	}
	o.publishByID(taskID)
	o.submitFetch(taskID, o.constraints())
	return nil
}

// Cancel stops a task's in-flight fetch and deletes its row. Idempotent:
// cancelling an unknown id is a no-op.
func (o *Orchestrator) Cancel(taskID string) error {
	o.sched.Cancel(taskID)
	return o.tasks.Delete(taskID)
}

// DeleteLocalContent removes a chapter's on-disk verse files, clears the
// variant local paths, and deletes the task row
func (o *Orchestrator) DeleteLocalContent(ctx context.Context, reciterID, chapter int) error {
	reciter, err := o.reciters.GetByID(reciterID)
	if err != nil {
		return err
	}

	if task, err := o.tasks.GetByReciterChapter(reciterID, chapter); err == nil && task != nil {
		o.sched.Cancel(task.ID)
		if err := o.tasks.Delete(task.ID); err != nil {
			return err
		}
	}

	if err := o.store.DeleteChapter(ctx, reciter.Folder, chapter); err != nil {
		return err
	}
	return o.variants.ClearLocalPathForChapter(reciterID, chapter)
}

// GetCollectionProgress reports how many of a reciter's chapters are
// completed, out of the total chapter count
func (o *Orchestrator) GetCollectionProgress(reciterID int) (models.CollectionProgress, error) {
	completed, err := o.tasks.CountByReciterStatus(reciterID, models.StatusCompleted)
	if err != nil {
		return models.CollectionProgress{}, err
	}
	return models.CollectionProgress{
		ReciterID:         reciterID,
		CompletedChapters: completed,
		TotalChapters:     o.meta.ChapterCount(),
	}, nil
}

// HasAnyDownloads reports whether the reciter has at least one completed
// chapter
func (o *Orchestrator) HasAnyDownloads(reciterID int) (bool, error) {
	completed, err := o.tasks.CountByReciterStatus(reciterID, models.StatusCompleted)
	if err != nil {
		return false, err
	}
	return completed > 0, nil
}

// CancelAllForReciter stops the reciter's collection chain and cancels
// every non-terminal task, deleting their rows. Completed rows stay.
func (o *Orchestrator) CancelAllForReciter(reciterID int) error {
	o.sched.CancelChain(collectionChain(reciterID))

	tasks, err := o.tasks.GetByReciter(reciterID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status.IsTerminal() {
			continue
		}
		o.sched.Cancel(t.ID)
		if err := o.tasks.Delete(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAllForReciter cancels everything in flight and removes all of the
// reciter's downloaded content, task rows, and variant local paths
func (o *Orchestrator) DeleteAllForReciter(ctx context.Context, reciterID int) error {
	reciter, err := o.reciters.GetByID(reciterID)
	if err != nil {
		return err
	}

	if err := o.CancelAllForReciter(reciterID); err != nil {
		return err
	}
	if err := o.store.DeleteReciter(ctx, reciter.Folder); err != nil {
		return err
	}
	if err := o.variants.ClearLocalPathForReciter(reciterID); err != nil {
		return err
	}
	return o.tasks.DeleteByReciter(reciterID)
}

// Subscribe returns a channel receiving every task state change, plus an
// unsubscribe function. Slow subscribers drop updates rather than block
// fetch workers.
func (o *Orchestrator) Subscribe() (<-chan models.DownloadTask, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan models.DownloadTask, 64)
	o.subs[id] = ch

	unsubscribe := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish fans a task snapshot out to all subscribers
func (o *Orchestrator) Publish(task models.DownloadTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- task:
		default:
		}
	}
}

func (o *Orchestrator) publishByID(taskID string) {
	task, err := o.tasks.GetByID(taskID)
	if err != nil {
		return
	}
	o.Publish(*task)
}

func (o *Orchestrator) submitFetch(taskID string, c Constraints) {
	o.sched.Submit(Unit{
		Tag:         taskID,
		Constraints: c,
		Run: func(ctx context.Context) {
			o.runner.Run(ctx, taskID)
		},
	})
}

func (o *Orchestrator) resolveVariant(reciterID, chapter, variantID int) (*models.AudioVariant, error) {
	if variantID > 0 {
		return o.variants.GetByID(variantID)
	}
	variant, err := o.variants.GetForChapter(reciterID, chapter)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return nil, fmt.Errorf("no audio variant for reciter %d chapter %d", reciterID, chapter)
	}
	return variant, nil
}

package jobs

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"alfurqan/database"
	"alfurqan/models"
	"alfurqan/repository"
	"alfurqan/services"
	"alfurqan/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner records the order fetch units execute in without doing
// any real fetching.
type recordingRunner struct {
	mu    sync.Mutex
	tasks []string
	block chan struct{} // when set, Run waits for it or ctx
}

func (r *recordingRunner) Run(ctx context.Context, taskID string) {
	r.mu.Lock()
	r.tasks = append(r.tasks, taskID)
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
}

func (r *recordingRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tasks...)
}

// waitForRuns polls until at least n units have executed, so tests can
// assert on chain output without racing the scheduler's shutdown.
func (r *recordingRunner) waitForRuns(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(r.ran()) < n {
		select {
		case <-deadline:
			t.Fatalf("Only %d of %d units ran", len(r.ran()), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type orchFixture struct {
	tasks    *repository.TaskRepository
	variants *repository.VariantRepository
	reciters *repository.ReciterRepository
	store    *storage.AudioStore
	sched    *Scheduler
	runner   *recordingRunner
	orch     *Orchestrator
	reciter  *models.Reciter
}

func setupOrchestrator(t *testing.T) (*orchFixture, func()) {
	db, err := database.NewDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())

	store, err := storage.NewAudioStore(t.TempDir())
	require.NoError(t, err)

	fx := &orchFixture{
		tasks:    repository.NewTaskRepository(db),
		variants: repository.NewVariantRepository(db),
		reciters: repository.NewReciterRepository(db),
		store:    store,
		sched:    NewScheduler(nil),
		runner:   &recordingRunner{},
	}
	fx.sched.Start()

	settings := services.StaticSettings{}
	meta := services.NewQuranMetadata(nil)
	fx.orch = NewOrchestrator(fx.tasks, fx.variants, fx.reciters, store,
		fx.sched, fx.runner, settings, meta)

	fx.reciter = &models.Reciter{Name: "Mahmoud Khalil Al-Husary", Folder: "Husary_128kbps"}
	require.NoError(t, fx.reciters.Create(fx.reciter))

	cleanup := func() {
		fx.sched.Stop()
		if err := store.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	}
	return fx, cleanup
}

func (fx *orchFixture) addVariant(t *testing.T, chapter int) *models.AudioVariant {
	variant := &models.AudioVariant{
		ReciterID:   fx.reciter.ID,
		Chapter:     chapter,
		BitrateKbps: 128,
		URLPattern:  "https://everyayah.com/data/Husary_128kbps",
	}
	require.NoError(t, fx.variants.Create(variant))
	return variant
}

func TestOrchestrator_RequestChapterDownload_CreatesTask(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	fx.addVariant(t, 1)

	taskID, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := fx.tasks.GetByID(taskID)
	assert.NoError(t, err)
	assert.Equal(t, 1, task.Chapter)

	fx.sched.Stop()
	assert.Equal(t, []string{taskID}, fx.runner.ran())
}

func TestOrchestrator_RequestChapterDownload_NoVariant(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()

	_, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no audio variant")
}

func TestOrchestrator_RequestChapterDownload_DedupActive(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	fx.addVariant(t, 1)

	// Keep the first unit in flight so the second request sees an active
	// task.
	fx.runner.block = make(chan struct{})

	first, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)

	second, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)
	assert.Equal(t, first, second, "Re-requesting an active pair returns the existing task")

	close(fx.runner.block)
	fx.sched.Stop()

	// Exactly one unit ran, and exactly one row exists.
	assert.Equal(t, []string{first}, fx.runner.ran())
	all, err := fx.tasks.GetAll()
	assert.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOrchestrator_RequestChapterDownload_CompletedIsIdempotent(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	fx.addVariant(t, 1)

	taskID, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)
	fx.sched.Stop()
	require.NoError(t, fx.tasks.UpdateStatus(taskID, models.StatusCompleted, ""))

	again, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)
	assert.Equal(t, taskID, again)

	// No new unit was submitted for the completed chapter.
	assert.Equal(t, []string{taskID}, fx.runner.ran())
}

func TestOrchestrator_RequestChapterDownload_RetriesFailed(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	fx.addVariant(t, 1)

	taskID, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)
	require.NoError(t, fx.tasks.UpdateStatus(taskID, models.StatusFailed, "7/10 downloaded"))
	require.NoError(t, fx.tasks.UpdateProgress(taskID, 2048, 0, 0.7))

	again, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)
	assert.Equal(t, taskID, again, "Retry reuses the same row and id")

	task, err := fx.tasks.GetByID(taskID)
	assert.NoError(t, err)
	assert.NotEqual(t, models.StatusFailed, task.Status)
	assert.Empty(t, task.ErrorMessage)
	assert.Zero(t, task.Progress)

	fx.sched.Stop()
	ran := fx.runner.ran()
	assert.Len(t, ran, 2)
	assert.Equal(t, taskID, ran[1])
}

func TestOrchestrator_PauseResume(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	fx.addVariant(t, 1)

	fx.runner.block = make(chan struct{})
	taskID, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)

	assert.NoError(t, fx.orch.Pause(taskID))
	task, err := fx.tasks.GetByID(taskID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPaused, task.Status)

	// Pause on a non-active task is a no-op.
	assert.NoError(t, fx.orch.Pause(taskID))
	task, err = fx.tasks.GetByID(taskID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPaused, task.Status)

	assert.NoError(t, fx.orch.Resume(taskID))
	task, err = fx.tasks.GetByID(taskID)
	assert.NoError(t, err)
	assert.True(t, task.Status.IsActive())

	// Resume on a non-paused task is a no-op.
	assert.NoError(t, fx.orch.Resume(taskID))

	close(fx.runner.block)
	fx.sched.Stop()
}

func TestOrchestrator_PauseResume_UnknownTask(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()

	assert.NoError(t, fx.orch.Pause("no-such-task"))
	assert.NoError(t, fx.orch.Resume("no-such-task"))
	assert.NoError(t, fx.orch.Cancel("no-such-task"))
}

func TestOrchestrator_Cancel_RemovesRow(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	fx.addVariant(t, 1)

	fx.runner.block = make(chan struct{})
	taskID, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)

	assert.NoError(t, fx.orch.Cancel(taskID))

	_, err = fx.tasks.GetByID(taskID)
	assert.Error(t, err)

	// Cancelling again is idempotent.
	assert.NoError(t, fx.orch.Cancel(taskID))

	close(fx.runner.block)

	// After a cancel, the pair can be requested fresh under a new id.
	newID, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)
	assert.NotEqual(t, taskID, newID)
}

func TestOrchestrator_FullCollection_OrderedSkippingCompleted(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()

	// Variants exist for chapters 1..10 only; chapters without a variant
	// are skipped with a log line.
	for chapter := 1; chapter <= 10; chapter++ {
		fx.addVariant(t, chapter)
	}

	// Chapters 3 and 7 are already downloaded.
	for _, chapter := range []int{3, 7} {
		task := &models.DownloadTask{
			VariantID: 1,
			ReciterID: fx.reciter.ID,
			Chapter:   chapter,
			Status:    models.StatusCompleted,
		}
		require.NoError(t, fx.tasks.Create(task))
	}

	ids, err := fx.orch.RequestFullCollectionDownload(fx.reciter.ID)
	assert.NoError(t, err)
	assert.Len(t, ids, 8)

	fx.runner.waitForRuns(t, 8)
	fx.sched.Stop()

	// Units ran strictly in ascending chapter order, completed chapters
	// excluded.
	ran := fx.runner.ran()
	assert.Equal(t, ids, ran)

	var chapters []int
	for _, id := range ran {
		task, err := fx.tasks.GetByID(id)
		require.NoError(t, err)
		chapters = append(chapters, task.Chapter)
	}
	assert.Equal(t, []int{1, 2, 4, 5, 6, 8, 9, 10}, chapters)
}

func TestOrchestrator_FullCollection_ReplacesPreviousChain(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	for chapter := 1; chapter <= 3; chapter++ {
		fx.addVariant(t, chapter)
	}

	fx.runner.block = make(chan struct{})
	_, err := fx.orch.RequestFullCollectionDownload(fx.reciter.ID)
	assert.NoError(t, err)

	// Wait for the first unit to start, then replace the chain.
	fx.runner.waitForRuns(t, 1)

	ids, err := fx.orch.RequestFullCollectionDownload(fx.reciter.ID)
	assert.NoError(t, err)
	assert.Len(t, ids, 3)

	close(fx.runner.block)
	// The cancelled chain contributed its one started unit; the
	// replacement chain runs all three of its own.
	fx.runner.waitForRuns(t, 4)
	fx.sched.Stop()

	// The replacement chain ran all three chapters, in order, after
	// whatever the first chain managed before being cancelled.
	ran := fx.runner.ran()
	assert.GreaterOrEqual(t, len(ran), 3)
	assert.Equal(t, ids, ran[len(ran)-3:])
}

func TestOrchestrator_CollectionProgress(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()

	for _, chapter := range []int{1, 2, 3} {
		status := models.StatusCompleted
		if chapter == 3 {
			status = models.StatusFailed
		}
		task := &models.DownloadTask{
			VariantID: 1,
			ReciterID: fx.reciter.ID,
			Chapter:   chapter,
			Status:    status,
		}
		require.NoError(t, fx.tasks.Create(task))
	}

	progress, err := fx.orch.GetCollectionProgress(fx.reciter.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, progress.CompletedChapters)
	assert.Equal(t, services.ChapterCount, progress.TotalChapters)

	has, err := fx.orch.HasAnyDownloads(fx.reciter.ID)
	assert.NoError(t, err)
	assert.True(t, has)

	has, err = fx.orch.HasAnyDownloads(999)
	assert.NoError(t, err)
	assert.False(t, has)
}

func TestOrchestrator_DeleteLocalContent(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	variant := fx.addVariant(t, 1)

	// Simulate a completed download: files on disk, local path set, task
	// row completed.
	ctx := context.Background()
	payload := bytes.Repeat([]byte("q"), 2048)
	for verse := 1; verse <= 3; verse++ {
		_, err := fx.store.Save(ctx, models.VerseKey("Husary_128kbps", 1, verse), bytes.NewReader(payload))
		require.NoError(t, err)
	}
	require.NoError(t, fx.variants.SetLocalPath(variant.ID, fx.store.ChapterDir("Husary_128kbps", 1)))

	task := &models.DownloadTask{
		VariantID: variant.ID,
		ReciterID: fx.reciter.ID,
		Chapter:   1,
		Status:    models.StatusCompleted,
	}
	require.NoError(t, fx.tasks.Create(task))

	assert.NoError(t, fx.orch.DeleteLocalContent(ctx, fx.reciter.ID, 1))

	// Files, task row, and local path are all gone.
	for verse := 1; verse <= 3; verse++ {
		exists, err := fx.store.Exists(ctx, models.VerseKey("Husary_128kbps", 1, verse))
		assert.NoError(t, err)
		assert.False(t, exists)
	}
	_, err := fx.tasks.GetByID(task.ID)
	assert.Error(t, err)

	updated, err := fx.variants.GetByID(variant.ID)
	assert.NoError(t, err)
	assert.Empty(t, updated.LocalPath)
}

func TestOrchestrator_CancelAllForReciter_KeepsCompleted(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()

	completed := &models.DownloadTask{VariantID: 1, ReciterID: fx.reciter.ID, Chapter: 1, Status: models.StatusCompleted}
	pending := &models.DownloadTask{VariantID: 1, ReciterID: fx.reciter.ID, Chapter: 2, Status: models.StatusPending}
	failed := &models.DownloadTask{VariantID: 1, ReciterID: fx.reciter.ID, Chapter: 3, Status: models.StatusFailed}
	for _, task := range []*models.DownloadTask{completed, pending, failed} {
		require.NoError(t, fx.tasks.Create(task))
	}

	assert.NoError(t, fx.orch.CancelAllForReciter(fx.reciter.ID))

	remaining, err := fx.tasks.GetByReciter(fx.reciter.ID)
	assert.NoError(t, err)
	assert.Len(t, remaining, 2)
	for _, task := range remaining {
		assert.True(t, task.Status.IsTerminal())
	}
}

func TestOrchestrator_DeleteAllForReciter(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	variant := fx.addVariant(t, 1)

	ctx := context.Background()
	payload := bytes.Repeat([]byte("q"), 2048)
	_, err := fx.store.Save(ctx, models.VerseKey("Husary_128kbps", 1, 1), bytes.NewReader(payload))
	require.NoError(t, err)
	require.NoError(t, fx.variants.SetLocalPath(variant.ID, fx.store.ChapterDir("Husary_128kbps", 1)))

	task := &models.DownloadTask{VariantID: variant.ID, ReciterID: fx.reciter.ID, Chapter: 1, Status: models.StatusCompleted}
	require.NoError(t, fx.tasks.Create(task))

	assert.NoError(t, fx.orch.DeleteAllForReciter(ctx, fx.reciter.ID))

	exists, err := fx.store.Exists(ctx, models.VerseKey("Husary_128kbps", 1, 1))
	assert.NoError(t, err)
	assert.False(t, exists)

	remaining, err := fx.tasks.GetByReciter(fx.reciter.ID)
	assert.NoError(t, err)
	assert.Empty(t, remaining)

	updated, err := fx.variants.GetByID(variant.ID)
	assert.NoError(t, err)
	assert.Empty(t, updated.LocalPath)
}

func TestOrchestrator_Subscribe_ReceivesUpdates(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()
	fx.addVariant(t, 1)

	updates, unsubscribe := fx.orch.Subscribe()
	defer unsubscribe()

	taskID, err := fx.orch.RequestChapterDownload(fx.reciter.ID, 1, 0)
	assert.NoError(t, err)

	select {
	case task := <-updates:
		assert.Equal(t, taskID, task.ID)
		assert.Equal(t, models.StatusPending, task.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("No task update received")
	}
}

func TestOrchestrator_Subscribe_UnsubscribeCloses(t *testing.T) {
	fx, cleanup := setupOrchestrator(t)
	defer cleanup()

	updates, unsubscribe := fx.orch.Subscribe()
	unsubscribe()
	// Unsubscribing twice must not panic.
	unsubscribe()

	_, open := <-updates
	assert.False(t, open)

	// Publishing after unsubscribe must not panic either.
	fx.orch.Publish(models.DownloadTask{ID: "x"})
}

// Package main provides the main entry point for the recitation audio server.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"alfurqan/config"
	"alfurqan/database"
	"alfurqan/jobs"
	"alfurqan/models"
	"alfurqan/repository"
	"alfurqan/services"
	"alfurqan/storage"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// App represents the application with its dependencies
type App struct {
	reciterRepo   *repository.ReciterRepository
	variantRepo   *repository.VariantRepository
	taskRepo      *repository.TaskRepository
	ayahIndexRepo *repository.AyahIndexRepository
	orchestrator  *jobs.Orchestrator
	meta          *services.QuranMetadata
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg := config.Default()
	if path := os.Getenv("ALFURQAN_CONFIG"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			log.Fatal("Failed to load config file:", err)
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal("Failed to load config from environment:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	// Initialize database
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	// Initialize schema
	if err := db.InitSchema(); err != nil {
		log.Fatal("Failed to initialize schema:", err)
	}

	// Initialize repositories
	reciterRepo := repository.NewReciterRepository(db)
	variantRepo := repository.NewVariantRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	ayahIndexRepo := repository.NewAyahIndexRepository(db)

	// Initialize the audio library store
	store, err := storage.NewAudioStore(cfg.LibraryDir)
	if err != nil {
		log.Fatal("Failed to open audio library:", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Failed to close audio library: %v", err)
		}
	}()

	// Chapter metadata: embedded verse counts, API-backed display names
	meta := services.NewQuranMetadata(services.NewQuranAPIService(cfg.APIBaseURL))

	settings := &services.StaticSettings{
		Policy: services.NetworkPolicy{
			UnmeteredOnly:      cfg.UnmeteredOnly,
			MinStorageHeadroom: cfg.MinStorageHeadroom,
		},
	}

	// Initialize the download system
	scheduler := jobs.NewScheduler(jobs.DefaultConstraintChecker{})
	scheduler.Start()
	defer scheduler.Stop()

	fetcher := jobs.NewFetcher(taskRepo, variantRepo, reciterRepo, store, meta, cfg.FetchTimeout)
	orchestrator := jobs.NewOrchestrator(taskRepo, variantRepo, reciterRepo, store,
		scheduler, fetcher, settings, meta)
	fetcher.SetNotify(orchestrator.Publish)

	app := &App{
		reciterRepo:   reciterRepo,
		variantRepo:   variantRepo,
		taskRepo:      taskRepo,
		ayahIndexRepo: ayahIndexRepo,
		orchestrator:  orchestrator,
		meta:          meta,
	}

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/health", healthHandler).Methods("GET")

	// API routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Reciter endpoints
	api.HandleFunc("/reciters", app.getRecitersHandler).Methods("GET")
	api.HandleFunc("/reciters", app.createReciterHandler).Methods("POST")
	api.HandleFunc("/reciters/{id}", app.getReciterByIDHandler).Methods("GET")
	api.HandleFunc("/reciters/{id}/variants", app.getVariantsHandler).Methods("GET")
	api.HandleFunc("/reciters/{id}/variants", app.createVariantHandler).Methods("POST")

	// Download endpoints
	api.HandleFunc("/reciters/{id}/chapters/{chapter}/download", app.downloadChapterHandler).Methods("POST")
	api.HandleFunc("/reciters/{id}/download", app.downloadCollectionHandler).Methods("POST")
	api.HandleFunc("/reciters/{id}/progress", app.getCollectionProgressHandler).Methods("GET")
	api.HandleFunc("/reciters/{id}/has-downloads", app.hasDownloadsHandler).Methods("GET")
	api.HandleFunc("/reciters/{id}/downloads", app.cancelAllForReciterHandler).Methods("DELETE")
	api.HandleFunc("/reciters/{id}/chapters/{chapter}/content", app.deleteChapterContentHandler).Methods("DELETE")
	api.HandleFunc("/reciters/{id}/content", app.deleteReciterContentHandler).Methods("DELETE")

	// Task endpoints
	api.HandleFunc("/tasks", app.getTasksHandler).Methods("GET")
	api.HandleFunc("/tasks/{id}", app.getTaskByIDHandler).Methods("GET")
	api.HandleFunc("/tasks/{id}/pause", app.pauseTaskHandler).Methods("POST")
	api.HandleFunc("/tasks/{id}/resume", app.resumeTaskHandler).Methods("POST")
	api.HandleFunc("/tasks/{id}", app.cancelTaskHandler).Methods("DELETE")

	// Chapter metadata endpoint
	api.HandleFunc("/chapters/{chapter}", app.getChapterInfoHandler).Methods("GET")

	// Verse timing index endpoints
	api.HandleFunc("/reciters/{id}/chapters/{chapter}/index", app.getAyahIndexHandler).Methods("GET")
	api.HandleFunc("/reciters/{id}/chapters/{chapter}/index", app.putAyahIndexHandler).Methods("PUT")
	api.HandleFunc("/reciters/{id}/chapters/{chapter}/verse-at", app.verseAtPositionHandler).Methods("GET")

	log.Printf("Server starting on %s", cfg.ListenAddr)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func pathInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (app *App) getRecitersHandler(w http.ResponseWriter, _ *http.Request) {
	reciters, err := app.reciterRepo.GetAll()
	if err != nil {
		log.Printf("Error getting reciters: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reciters)
}

func (app *App) createReciterHandler(w http.ResponseWriter, r *http.Request) {
	var reciter models.Reciter
	if err := json.NewDecoder(r.Body).Decode(&reciter); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(reciter.Name) == "" || strings.TrimSpace(reciter.Folder) == "" {
		http.Error(w, "Name and folder are required", http.StatusBadRequest)
		return
	}

	if err := app.reciterRepo.Create(&reciter); err != nil {
		log.Printf("Error creating reciter: %v", err)
		http.Error(w, "Failed to create reciter", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, reciter)
}

func (app *App) getReciterByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	reciter, err := app.reciterRepo.GetByID(id)
	if err != nil {
		http.Error(w, "Reciter not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, reciter)
}

func (app *App) getVariantsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	variants, err := app.variantRepo.GetByReciter(id)
	if err != nil {
		log.Printf("Error getting variants: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

func (app *App) createVariantHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	var variant models.AudioVariant
	if err := json.NewDecoder(r.Body).Decode(&variant); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(variant.URLPattern) == "" {
		http.Error(w, "URL pattern is required", http.StatusBadRequest)
		return
	}
	variant.ReciterID = id

	if err := app.variantRepo.Create(&variant); err != nil {
		log.Printf("Error creating variant: %v", err)
		http.Error(w, "Failed to create variant", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, variant)
}

// downloadChapterHandler queues one chapter download. Requesting an already
// queued, running, or completed chapter returns the existing task.
func (app *App) downloadChapterHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}
	chapter, ok := pathInt(r, "chapter")
	if !ok || chapter < 1 || chapter > services.ChapterCount {
		http.Error(w, "Invalid chapter number", http.StatusBadRequest)
		return
	}

	variantID := 0
	if v := r.URL.Query().Get("variant_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "Invalid variant ID", http.StatusBadRequest)
			return
		}
		variantID = n
	}

	taskID, err := app.orchestrator.RequestChapterDownload(reciterID, chapter, variantID)
	if err != nil {
		log.Printf("Error requesting chapter download: %v", err)
		http.Error(w, "Failed to request download", http.StatusInternalServerError)
		return
	}

	task, err := app.taskRepo.GetByID(taskID)
	if err != nil {
		log.Printf("Error loading task %s: %v", taskID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (app *App) downloadCollectionHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	ids, err := app.orchestrator.RequestFullCollectionDownload(reciterID)
	if err != nil {
		log.Printf("Error requesting collection download: %v", err)
		http.Error(w, "Failed to request download", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"reciter_id": reciterID,
		"task_ids":   ids,
	})
}

func (app *App) getCollectionProgressHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	progress, err := app.orchestrator.GetCollectionProgress(reciterID)
	if err != nil {
		log.Printf("Error getting collection progress: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (app *App) hasDownloadsHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	has, err := app.orchestrator.HasAnyDownloads(reciterID)
	if err != nil {
		log.Printf("Error checking downloads: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_downloads": has})
}

func (app *App) cancelAllForReciterHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	if err := app.orchestrator.CancelAllForReciter(reciterID); err != nil {
		log.Printf("Error cancelling downloads: %v", err)
		http.Error(w, "Failed to cancel downloads", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) deleteChapterContentHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}
	chapter, ok := pathInt(r, "chapter")
	if !ok {
		http.Error(w, "Invalid chapter number", http.StatusBadRequest)
		return
	}

	if err := app.orchestrator.DeleteLocalContent(r.Context(), reciterID, chapter); err != nil {
		log.Printf("Error deleting chapter content: %v", err)
		http.Error(w, "Failed to delete content", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) deleteReciterContentHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}

	if err := app.orchestrator.DeleteAllForReciter(r.Context(), reciterID); err != nil {
		log.Printf("Error deleting reciter content: %v", err)
		http.Error(w, "Failed to delete content", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) getTasksHandler(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []models.DownloadTask
		err   error
	)

	if status := r.URL.Query().Get("status"); status != "" {
		tasks, err = app.taskRepo.GetByStatus(models.TaskStatus(status))
	} else {
		tasks, err = app.taskRepo.GetAll()
	}
	if err != nil {
		log.Printf("Error getting tasks: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (app *App) getTaskByIDHandler(w http.ResponseWriter, r *http.Request) {
	task, err := app.taskRepo.GetByID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (app *App) pauseTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if err := app.orchestrator.Pause(taskID); err != nil {
		log.Printf("Error pausing task %s: %v", taskID, err)
		http.Error(w, "Failed to pause task", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) resumeTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if err := app.orchestrator.Resume(taskID); err != nil {
		log.Printf("Error resuming task %s: %v", taskID, err)
		http.Error(w, "Failed to resume task", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) cancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	if err := app.orchestrator.Cancel(taskID); err != nil {
		log.Printf("Error cancelling task %s: %v", taskID, err)
		http.Error(w, "Failed to cancel task", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getChapterInfoHandler serves chapter display metadata, enriched from the
// remote API when it is reachable
func (app *App) getChapterInfoHandler(w http.ResponseWriter, r *http.Request) {
	chapter, ok := pathInt(r, "chapter")
	if !ok || chapter < 1 || chapter > services.ChapterCount {
		http.Error(w, "Invalid chapter number", http.StatusBadRequest)
		return
	}

	info, err := app.meta.ChapterInfo(chapter)
	if err != nil {
		log.Printf("Error getting chapter info: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (app *App) getAyahIndexHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}
	chapter, ok := pathInt(r, "chapter")
	if !ok {
		http.Error(w, "Invalid chapter number", http.StatusBadRequest)
		return
	}

	entries, err := app.ayahIndexRepo.EntriesForChapter(reciterID, chapter)
	if err != nil {
		log.Printf("Error getting index entries: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// putAyahIndexHandler replaces a chapter's verse timing entries
func (app *App) putAyahIndexHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}
	chapter, ok := pathInt(r, "chapter")
	if !ok {
		http.Error(w, "Invalid chapter number", http.StatusBadRequest)
		return
	}

	var entries []models.AyahIndexEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for i := range entries {
		entries[i].ReciterID = reciterID
		entries[i].Chapter = chapter
	}

	if err := app.ayahIndexRepo.BulkInsert(entries); err != nil {
		log.Printf("Error storing index entries: %v", err)
		http.Error(w, "Failed to store index entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stored": len(entries)})
}

// verseAtPositionHandler resolves a playback position to its verse.
// Positions in index gaps return 404.
func (app *App) verseAtPositionHandler(w http.ResponseWriter, r *http.Request) {
	reciterID, ok := pathInt(r, "id")
	if !ok {
		http.Error(w, "Invalid reciter ID", http.StatusBadRequest)
		return
	}
	chapter, ok := pathInt(r, "chapter")
	if !ok {
		http.Error(w, "Invalid chapter number", http.StatusBadRequest)
		return
	}
	positionMs, err := strconv.ParseInt(r.URL.Query().Get("position_ms"), 10, 64)
	if err != nil || positionMs < 0 {
		http.Error(w, "Invalid position_ms", http.StatusBadRequest)
		return
	}

	entry, err := app.ayahIndexRepo.FindByPosition(reciterID, chapter, positionMs)
	if err != nil {
		log.Printf("Error resolving position: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "No verse at position", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

package playback

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"alfurqan/models"
	"alfurqan/services"
)

// ErrNoSource is returned when a verse has neither a local file nor a
// resolvable streaming URL.
var ErrNoSource = errors.New("playback: no source available for verse")

// ErrNoPipeline is returned by transport operations before any source has
// been set.
var ErrNoPipeline = errors.New("playback: no active pipeline")

// Pipeline is the platform media pipeline the engine drives. Implementations
// are not expected to be safe for concurrent use; the engine serializes all
// calls.
type Pipeline interface {
	SetSource(uri string) error
	Play() error
	Pause() error
	SeekTo(positionMs int64) error
	Position() int64
	Duration() int64
	SetRate(rate float64) error
	Release()
}

// PipelineFactory builds a fresh pipeline. The engine creates pipelines
// lazily on the first SetSource and again after Release.
type PipelineFactory func() (Pipeline, error)

// VerseLocator resolves positions and verse starts against the ayah index.
// Satisfied by repository.AyahIndexRepository.
type VerseLocator interface {
	FindByPosition(reciterID, chapter int, positionMs int64) (*models.AyahIndexEntry, error)
	VerseStart(reciterID, chapter, verse int) (int64, error)
}

// Observer receives engine state changes. Nil callbacks are skipped.
// Callbacks run on the caller's goroutine while the engine lock is NOT held,
// so they may call back into the engine.
type Observer struct {
	OnVerseChanged func(chapter, verse int)
	OnLoopChanged  func(state LoopState)
	OnError        func(message string)
}

// Engine drives one pipeline with verse-aware controls. Position is sampled
// by the host: the owner calls OnPositionTick on its poll cadence and
// OnEndOfMedia when the pipeline signals natural end, and the engine reacts
// with loop seeks and verse-change notifications.
type Engine struct {
	factory  PipelineFactory
	locator  VerseLocator
	observer Observer

	mu        sync.Mutex
	pipeline  Pipeline
	reciterID int
	chapter   int
	verse     int
	loop      LoopState
	playing   bool
	rate      float64
}

// NewEngine creates a playback engine. No pipeline exists until the first
// SetSource.
func NewEngine(factory PipelineFactory, locator VerseLocator) *Engine {
	return &Engine{
		factory: factory,
		locator: locator,
		rate:    1.0,
	}
}

// SetObserver registers the state-change callbacks
func (e *Engine) SetObserver(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = obs
}

// SetSource loads a chapter's audio into the pipeline, creating the
// pipeline if needed. Loading a source clears any loop and resets the
// tracked verse; the previous playback rate is reapplied.
func (e *Engine) SetSource(reciterID, chapter int, uri string) error {
	e.mu.Lock()

	if e.pipeline == nil {
		p, err := e.factory()
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("failed to create pipeline: %w", err)
		}
		e.pipeline = p
	}

	if err := e.pipeline.SetSource(uri); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to set source: %w", err)
	}

	e.reciterID = reciterID
	e.chapter = chapter
	e.verse = 0
	e.playing = false
	loopWasEnabled := e.loop.Enabled
	e.loop = LoopDisabled()

	if e.rate != 1.0 {
		if err := e.pipeline.SetRate(e.rate); err != nil {
			log.Printf("Failed to reapply playback rate %.2f: %v", e.rate, err)
		}
	}

	onLoop := e.observer.OnLoopChanged
	state := e.loop
	e.mu.Unlock()

	if loopWasEnabled && onLoop != nil {
		onLoop(state)
	}
	return nil
}

// Play starts or resumes playback
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pipeline == nil {
		return ErrNoPipeline
	}
	if err := e.pipeline.Play(); err != nil {
		return err
	}
	e.playing = true
	return nil
}

// Pause pauses playback, keeping position
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pipeline == nil {
		return ErrNoPipeline
	}
	if err := e.pipeline.Pause(); err != nil {
		return err
	}
	e.playing = false
	return nil
}

// IsPlaying reports whether the engine believes playback is running
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// SeekTo seeks to an absolute position, clamped to [0, duration]
func (e *Engine) SeekTo(positionMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seekClampedLocked(positionMs)
}

// SeekToVerse seeks to the exact start of a verse in the current chapter.
// Returns repository.ErrVerseNotIndexed (wrapped) when the verse has no
// timing entry.
func (e *Engine) SeekToVerse(verse int) error {
	e.mu.Lock()
	if e.pipeline == nil {
		e.mu.Unlock()
		return ErrNoPipeline
	}

	startMs, err := e.locator.VerseStart(e.reciterID, e.chapter, verse)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to seek to verse %d:%d: %w", e.chapter, verse, err)
	}

	if err := e.pipeline.SeekTo(startMs); err != nil {
		e.mu.Unlock()
		return err
	}

	changed := e.verse != verse
	e.verse = verse
	chapter := e.chapter
	onVerse := e.observer.OnVerseChanged
	e.mu.Unlock()

	if changed && onVerse != nil {
		onVerse(chapter, verse)
	}
	return nil
}

// NudgeForward seeks forward by deltaMs, clamped to the track duration
func (e *Engine) NudgeForward(deltaMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pipeline == nil {
		return ErrNoPipeline
	}
	return e.seekClampedLocked(e.pipeline.Position() + deltaMs)
}

// NudgeBackward seeks backward by deltaMs, clamped to zero
func (e *Engine) NudgeBackward(deltaMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pipeline == nil {
		return ErrNoPipeline
	}
	return e.seekClampedLocked(e.pipeline.Position() - deltaMs)
}

func (e *Engine) seekClampedLocked(positionMs int64) error {
	if e.pipeline == nil {
		return ErrNoPipeline
	}
	if positionMs < 0 {
		positionMs = 0
	}
	if d := e.pipeline.Duration(); d > 0 && positionMs > d {
		positionMs = d
	}
	return e.pipeline.SeekTo(positionMs)
}

// SetSpeed changes the playback rate. The rate survives source changes.
func (e *Engine) SetSpeed(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("invalid playback rate: %.2f", rate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rate = rate
	if e.pipeline == nil {
		return nil
	}
	return e.pipeline.SetRate(rate)
}

// EnableLoop arms an A-B loop over [startMs, endMs) repeating totalLoops
// times, or until disabled when totalLoops is LoopInfinite. Arming does
// not move the playhead; the first seek to the loop start happens on the
// first end-crossing.
func (e *Engine) EnableLoop(startMs, endMs int64, totalLoops int) error {
	if startMs < 0 || endMs <= startMs {
		return fmt.Errorf("invalid loop range: [%d, %d)", startMs, endMs)
	}
	if totalLoops != LoopInfinite && totalLoops < 1 {
		return fmt.Errorf("invalid loop count: %d", totalLoops)
	}

	e.mu.Lock()
	if e.pipeline == nil {
		e.mu.Unlock()
		return ErrNoPipeline
	}
	e.loop = LoopEnabled(startMs, endMs, totalLoops)
	state := e.loop
	onLoop := e.observer.OnLoopChanged
	e.mu.Unlock()

	if onLoop != nil {
		onLoop(state)
	}
	return nil
}

// DisableLoop turns the loop off; playback continues past the loop end
func (e *Engine) DisableLoop() {
	e.mu.Lock()
	wasEnabled := e.loop.Enabled
	e.loop = LoopDisabled()
	state := e.loop
	onLoop := e.observer.OnLoopChanged
	e.mu.Unlock()

	if wasEnabled && onLoop != nil {
		onLoop(state)
	}
}

// Loop returns the current loop state
func (e *Engine) Loop() LoopState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop
}

// CurrentVerse returns the last resolved verse, zero before any resolution
func (e *Engine) CurrentVerse() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verse
}

// OnPositionTick processes one host position sample: first the loop
// transition, then verse resolution. A position falling in an index gap
// keeps the previous verse.
func (e *Engine) OnPositionTick(positionMs int64) {
	e.mu.Lock()
	if e.pipeline == nil {
		e.mu.Unlock()
		return
	}

	next, action := e.loop.Tick(positionMs)
	e.loop = next

	var onLoop func(LoopState)
	switch action {
	case LoopSeekStart:
		if err := e.pipeline.SeekTo(next.StartMs); err != nil {
			log.Printf("Loop seek failed: %v", err)
		}
		positionMs = next.StartMs
		onLoop = e.observer.OnLoopChanged
	case LoopFinish:
		if err := e.pipeline.Pause(); err != nil {
			log.Printf("Loop finish pause failed: %v", err)
		}
		e.playing = false
		onLoop = e.observer.OnLoopChanged
	}

	loopState := e.loop
	reciterID, chapter := e.reciterID, e.chapter
	prevVerse := e.verse
	onVerse := e.observer.OnVerseChanged
	e.mu.Unlock()

	if onLoop != nil {
		onLoop(loopState)
	}

	entry, err := e.locator.FindByPosition(reciterID, chapter, positionMs)
	if err != nil {
		log.Printf("Verse resolution at %dms failed: %v", positionMs, err)
		return
	}
	if entry == nil || entry.Verse == prevVerse {
		return
	}

	e.mu.Lock()
	e.verse = entry.Verse
	e.mu.Unlock()

	if onVerse != nil {
		onVerse(chapter, entry.Verse)
	}
}

// OnEndOfMedia handles the pipeline reaching natural end-of-media. With a
// loop enabled this counts as a loop-end crossing; otherwise playback just
// stops.
func (e *Engine) OnEndOfMedia() {
	e.mu.Lock()
	if e.pipeline == nil {
		e.mu.Unlock()
		return
	}

	next, action := e.loop.EndOfMedia()
	e.loop = next

	var onLoop func(LoopState)
	switch action {
	case LoopSeekStart:
		if err := e.pipeline.SeekTo(next.StartMs); err != nil {
			log.Printf("Loop seek failed: %v", err)
		}
		if err := e.pipeline.Play(); err != nil {
			log.Printf("Loop restart failed: %v", err)
		}
		onLoop = e.observer.OnLoopChanged
	case LoopFinish:
		if err := e.pipeline.Pause(); err != nil {
			log.Printf("Loop finish pause failed: %v", err)
		}
		e.playing = false
		onLoop = e.observer.OnLoopChanged
	default:
		e.playing = false
	}

	loopState := e.loop
	e.mu.Unlock()

	if onLoop != nil {
		onLoop(loopState)
	}
}

// ReportPipelineError forwards a pipeline error message verbatim to the
// observer and stops playback tracking
func (e *Engine) ReportPipelineError(message string) {
	e.mu.Lock()
	e.playing = false
	onError := e.observer.OnError
	e.mu.Unlock()

	if onError != nil {
		onError(message)
	}
}

// Release tears the pipeline down. The next SetSource builds a fresh one.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pipeline != nil {
		e.pipeline.Release()
		e.pipeline = nil
	}
	e.playing = false
	e.loop = LoopDisabled()
	e.verse = 0
}

// ResolveVerseSource picks the playback URI for one verse: the downloaded
// local file when present, else the provider streaming URL. Legacy
// whole-chapter content plays from the downloaded chapter file.
func ResolveVerseSource(variant *models.AudioVariant, chapter, verse int) (string, error) {
	if variant.LocalPath != "" {
		local := filepath.Join(variant.LocalPath, models.VerseFileName(chapter, verse))
		if info, err := os.Stat(local); err == nil && info.Size() > 0 {
			return local, nil
		}
		if variant.URLKind == models.URLKindLegacyChapter {
			local = filepath.Join(variant.LocalPath, models.ChapterFileName(chapter))
			if info, err := os.Stat(local); err == nil && info.Size() > 0 {
				return local, nil
			}
		}
	}

	resolver := services.ResolverFor(variant)
	if url, ok := resolver.VerseURL(chapter, verse); ok {
		return url, nil
	}
	if url := resolver.ChapterURL(chapter); url != "" {
		return url, nil
	}
	return "", ErrNoSource
}

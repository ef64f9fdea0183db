package playback

import (
	"os"
	"path/filepath"
	"testing"

	"alfurqan/models"

	"github.com/stretchr/testify/assert"
)

// fakePipeline records calls so tests can assert on the engine's driving.
type fakePipeline struct {
	source   string
	playing  bool
	position int64
	duration int64
	rate     float64
	seeks    []int64
	released bool
}

func (p *fakePipeline) SetSource(uri string) error { p.source = uri; return nil }
func (p *fakePipeline) Play() error                { p.playing = true; return nil }
func (p *fakePipeline) Pause() error               { p.playing = false; return nil }
func (p *fakePipeline) SeekTo(positionMs int64) error {
	p.position = positionMs
	p.seeks = append(p.seeks, positionMs)
	return nil
}
func (p *fakePipeline) Position() int64            { return p.position }
func (p *fakePipeline) Duration() int64            { return p.duration }
func (p *fakePipeline) SetRate(rate float64) error { p.rate = rate; return nil }
func (p *fakePipeline) Release()                   { p.released = true }

// fakeLocator serves a fixed verse timeline: verse n covers
// [(n-1)*1000, n*1000) for n in 1..verses.
type fakeLocator struct {
	verses int
}

func (l *fakeLocator) FindByPosition(reciterID, chapter int, positionMs int64) (*models.AyahIndexEntry, error) {
	verse := int(positionMs/1000) + 1
	if positionMs < 0 || verse > l.verses {
		return nil, nil
	}
	return &models.AyahIndexEntry{
		ReciterID: reciterID,
		Chapter:   chapter,
		Verse:     verse,
		StartMs:   int64(verse-1) * 1000,
		EndMs:     int64(verse) * 1000,
	}, nil
}

func (l *fakeLocator) VerseStart(reciterID, chapter, verse int) (int64, error) {
	if verse < 1 || verse > l.verses {
		return 0, ErrNoSource
	}
	return int64(verse-1) * 1000, nil
}

func setupEngine(t *testing.T) (*Engine, *fakePipeline) {
	pipe := &fakePipeline{duration: 7000}
	engine := NewEngine(func() (Pipeline, error) {
		return pipe, nil
	}, &fakeLocator{verses: 7})

	if err := engine.SetSource(1, 1, "file:///library/Husary_128kbps/001"); err != nil {
		t.Fatalf("Failed to set source: %v", err)
	}
	return engine, pipe
}

func TestEngine_PlayPause(t *testing.T) {
	engine, pipe := setupEngine(t)

	assert.NoError(t, engine.Play())
	assert.True(t, pipe.playing)
	assert.True(t, engine.IsPlaying())

	assert.NoError(t, engine.Pause())
	assert.False(t, pipe.playing)
	assert.False(t, engine.IsPlaying())
}

func TestEngine_NoPipelineBeforeSetSource(t *testing.T) {
	engine := NewEngine(func() (Pipeline, error) {
		return &fakePipeline{}, nil
	}, &fakeLocator{verses: 7})

	assert.ErrorIs(t, engine.Play(), ErrNoPipeline)
	assert.ErrorIs(t, engine.Pause(), ErrNoPipeline)
	assert.ErrorIs(t, engine.SeekTo(1000), ErrNoPipeline)
	assert.ErrorIs(t, engine.NudgeForward(500), ErrNoPipeline)
}

func TestEngine_SeekToVerse(t *testing.T) {
	engine, pipe := setupEngine(t)

	var gotChapter, gotVerse int
	engine.SetObserver(Observer{
		OnVerseChanged: func(chapter, verse int) {
			gotChapter, gotVerse = chapter, verse
		},
	})

	assert.NoError(t, engine.SeekToVerse(3))
	assert.Equal(t, int64(2000), pipe.position)
	assert.Equal(t, 3, engine.CurrentVerse())
	assert.Equal(t, 1, gotChapter)
	assert.Equal(t, 3, gotVerse)

	// Unindexed verse leaves position alone.
	err := engine.SeekToVerse(99)
	assert.Error(t, err)
	assert.Equal(t, int64(2000), pipe.position)
}

func TestEngine_NudgeClamping(t *testing.T) {
	engine, pipe := setupEngine(t)

	pipe.position = 6800
	assert.NoError(t, engine.NudgeForward(500))
	assert.Equal(t, int64(7000), pipe.position, "Forward nudge clamps to duration")

	pipe.position = 200
	assert.NoError(t, engine.NudgeBackward(500))
	assert.Equal(t, int64(0), pipe.position, "Backward nudge clamps to zero")

	pipe.position = 3000
	assert.NoError(t, engine.NudgeForward(500))
	assert.Equal(t, int64(3500), pipe.position)
}

func TestEngine_SetSpeed(t *testing.T) {
	engine, pipe := setupEngine(t)

	assert.NoError(t, engine.SetSpeed(1.5))
	assert.Equal(t, 1.5, pipe.rate)

	assert.Error(t, engine.SetSpeed(0))
	assert.Error(t, engine.SetSpeed(-1))
	assert.Equal(t, 1.5, pipe.rate)
}

func TestEngine_SpeedSurvivesSourceChange(t *testing.T) {
	engine, pipe := setupEngine(t)

	assert.NoError(t, engine.SetSpeed(2.0))
	assert.NoError(t, engine.SetSource(1, 2, "file:///library/Husary_128kbps/002"))
	assert.Equal(t, 2.0, pipe.rate)
}

func TestEngine_OnPositionTick_VerseChanges(t *testing.T) {
	engine, _ := setupEngine(t)

	var changes []int
	engine.SetObserver(Observer{
		OnVerseChanged: func(_, verse int) {
			changes = append(changes, verse)
		},
	})

	engine.OnPositionTick(100)  // verse 1
	engine.OnPositionTick(500)  // still verse 1, no event
	engine.OnPositionTick(1200) // verse 2
	engine.OnPositionTick(1800) // still verse 2
	engine.OnPositionTick(2100) // verse 3

	assert.Equal(t, []int{1, 2, 3}, changes)
	assert.Equal(t, 3, engine.CurrentVerse())
}

func TestEngine_OnPositionTick_GapKeepsVerse(t *testing.T) {
	engine, _ := setupEngine(t)

	engine.OnPositionTick(1200)
	assert.Equal(t, 2, engine.CurrentVerse())

	// Past the indexed range: the locator returns nothing, the verse
	// holds.
	engine.OnPositionTick(50000)
	assert.Equal(t, 2, engine.CurrentVerse())
}

func TestEngine_Loop_SeeksAndFinishes(t *testing.T) {
	engine, pipe := setupEngine(t)
	assert.NoError(t, engine.Play())

	var loopEvents []LoopState
	engine.SetObserver(Observer{
		OnLoopChanged: func(state LoopState) {
			loopEvents = append(loopEvents, state)
		},
	})

	assert.NoError(t, engine.EnableLoop(1000, 2000, 2))
	assert.Empty(t, pipe.seeks, "Arming the loop does not move the playhead")

	engine.OnPositionTick(1500)
	assert.Empty(t, pipe.seeks, "Ticks inside the loop do not seek")

	engine.OnPositionTick(2000)
	assert.Equal(t, int64(1000), pipe.position, "First crossing seeks back")
	assert.True(t, engine.IsPlaying())

	engine.OnPositionTick(2050)
	assert.False(t, engine.Loop().Enabled, "Second crossing exhausts the loop")
	assert.False(t, engine.IsPlaying())
	assert.False(t, pipe.playing)

	// enable, seek-back, finish
	assert.Len(t, loopEvents, 3)
	assert.True(t, loopEvents[0].Enabled)
	assert.Equal(t, 1, loopEvents[1].CurrentLoop)
	assert.False(t, loopEvents[2].Enabled)

	// No further seeks after exhaustion.
	seeks := len(pipe.seeks)
	engine.OnPositionTick(3000)
	assert.Len(t, pipe.seeks, seeks)
}

func TestEngine_Loop_LoopStartVerseResolved(t *testing.T) {
	engine, _ := setupEngine(t)

	assert.NoError(t, engine.EnableLoop(1000, 2000, LoopInfinite))

	// Crossing the end seeks back; the verse resolves at the loop start,
	// not at the raw tick position.
	engine.OnPositionTick(2000)
	assert.Equal(t, 2, engine.CurrentVerse())
}

func TestEngine_Loop_InvalidRanges(t *testing.T) {
	engine, _ := setupEngine(t)

	assert.Error(t, engine.EnableLoop(2000, 1000, 3))
	assert.Error(t, engine.EnableLoop(-1, 1000, 3))
	assert.Error(t, engine.EnableLoop(1000, 2000, 0))
	assert.Error(t, engine.EnableLoop(1000, 2000, -5))
	assert.False(t, engine.Loop().Enabled)
}

func TestEngine_DisableLoop(t *testing.T) {
	engine, pipe := setupEngine(t)

	assert.NoError(t, engine.EnableLoop(1000, 2000, LoopInfinite))
	engine.DisableLoop()
	assert.False(t, engine.Loop().Enabled)

	// Playback continues past the old loop end.
	seeks := len(pipe.seeks)
	engine.OnPositionTick(2500)
	assert.Len(t, pipe.seeks, seeks)
}

func TestEngine_OnEndOfMedia_RestartsLoop(t *testing.T) {
	engine, pipe := setupEngine(t)
	assert.NoError(t, engine.Play())

	assert.NoError(t, engine.EnableLoop(6000, 7000, 2))

	engine.OnEndOfMedia()
	assert.Equal(t, int64(6000), pipe.position)
	assert.True(t, pipe.playing, "Loop restart resumes playback")

	engine.OnEndOfMedia()
	assert.False(t, engine.Loop().Enabled)
	assert.False(t, pipe.playing)
}

func TestEngine_OnEndOfMedia_NoLoop(t *testing.T) {
	engine, _ := setupEngine(t)
	assert.NoError(t, engine.Play())

	engine.OnEndOfMedia()
	assert.False(t, engine.IsPlaying())
}

func TestEngine_ReportPipelineError(t *testing.T) {
	engine, _ := setupEngine(t)
	assert.NoError(t, engine.Play())

	var got string
	engine.SetObserver(Observer{
		OnError: func(message string) { got = message },
	})

	engine.ReportPipelineError("decoder error: unsupported codec")
	assert.Equal(t, "decoder error: unsupported codec", got)
	assert.False(t, engine.IsPlaying())
}

func TestEngine_Release_RecreatesPipeline(t *testing.T) {
	created := 0
	var pipes []*fakePipeline
	engine := NewEngine(func() (Pipeline, error) {
		created++
		p := &fakePipeline{duration: 7000}
		pipes = append(pipes, p)
		return p, nil
	}, &fakeLocator{verses: 7})

	assert.NoError(t, engine.SetSource(1, 1, "file:///a"))
	assert.Equal(t, 1, created)

	engine.Release()
	assert.True(t, pipes[0].released)
	assert.ErrorIs(t, engine.Play(), ErrNoPipeline)

	assert.NoError(t, engine.SetSource(1, 2, "file:///b"))
	assert.Equal(t, 2, created)
	assert.NoError(t, engine.Play())
}

func TestResolveVerseSource_PrefersLocalFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, models.VerseFileName(1, 1))
	if err := os.WriteFile(local, []byte("audio bytes"), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	variant := &models.AudioVariant{
		URLPattern: "https://everyayah.com/data/Husary_128kbps",
		URLKind:    models.URLKindVersePattern,
		LocalPath:  dir,
	}

	src, err := ResolveVerseSource(variant, 1, 1)
	assert.NoError(t, err)
	assert.Equal(t, local, src)

	// A verse missing locally falls back to the streaming URL.
	src, err = ResolveVerseSource(variant, 1, 2)
	assert.NoError(t, err)
	assert.Equal(t, "https://everyayah.com/data/Husary_128kbps/001002.mp3", src)
}

func TestResolveVerseSource_LegacyChapterURL(t *testing.T) {
	variant := &models.AudioVariant{
		URLPattern: "https://example.com/audio/001.mp3",
		URLKind:    models.URLKindLegacyChapter,
	}

	src, err := ResolveVerseSource(variant, 1, 3)
	assert.NoError(t, err)
	assert.Equal(t, "https://example.com/audio/001.mp3", src)
}

func TestResolveVerseSource_LegacyLocalChapterFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, models.ChapterFileName(1))
	if err := os.WriteFile(local, []byte("chapter audio"), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	// A downloaded whole-chapter file serves every verse of the chapter.
	variant := &models.AudioVariant{
		URLPattern: "https://example.com/audio/001.mp3",
		URLKind:    models.URLKindLegacyChapter,
		LocalPath:  dir,
	}

	for _, verse := range []int{1, 3, 7} {
		src, err := ResolveVerseSource(variant, 1, verse)
		assert.NoError(t, err)
		assert.Equal(t, local, src, "Verse %d", verse)
	}

	// Another chapter has no local file and streams.
	src, err := ResolveVerseSource(variant, 2, 1)
	assert.NoError(t, err)
	assert.Equal(t, "https://example.com/audio/001.mp3", src)
}

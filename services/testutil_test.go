package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"film-forge-server/config"
	"film-forge-server/models"
	"film-forge-server/pkg/database"
	"film-forge-server/pkg/events"
	"film-forge-server/pkg/videogen"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A second pooled connection would see an empty in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ScenesPerChapter: 2,
		SceneSeconds:     5,
		PollInterval:     time.Millisecond,
		PollMaxAttempts:  3,
	}
}

// fakeTexter answers framework, chapter and scene-split requests with canned
// JSON, keyed off the system prompt. It records every user prompt it sees.
type fakeTexter struct {
	mu          sync.Mutex
	chapterCall int
	prompts     []string

	failChapterCalls map[int]bool // 1-based chapter request ordinal
	sceneOutput      string
}

func (f *fakeTexter) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, userPrompt)

	switch {
	case strings.Contains(systemPrompt, "story architect"):
		return `{
			"premise": "A lighthouse keeper finds a door under the sea.",
			"hook": "Some doors only open at low tide.",
			"genres": ["mystery", "fantasy"],
			"tone": "melancholic",
			"setting": {"location": "remote island", "time_period": "1920s", "weather": "storm-lashed", "atmosphere": "uneasy"},
			"cast": [{"name": "Maren", "age": 41, "role": "protagonist", "description": "the keeper", "visual_tag": "oilskin coat"}]
		}`, nil

	case strings.Contains(systemPrompt, "screenwriter"):
		f.chapterCall++
		if f.failChapterCalls[f.chapterCall] {
			return "", fmt.Errorf("model overloaded")
		}
		return fmt.Sprintf(`{
			"title": "Chapter call %d",
			"content": "Narrative text for call %d.",
			"summary": "Summary for call %d.",
			"video_prompt": "A storm-lashed lighthouse, call %d.",
			"artifact": {"name": "brass key", "description": "a key grown with coral", "significance": "opens the sea door"}
		}`, f.chapterCall, f.chapterCall, f.chapterCall, f.chapterCall), nil

	default:
		if f.sceneOutput != "" {
			return f.sceneOutput, nil
		}
		return `["Wide shot of the lighthouse in rain.", "Close on a brass key turning."]`, nil
	}
}

func (f *fakeTexter) userPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// fakeVideoGen returns a direct video URL per submission, optionally failing
// selected calls.
type fakeVideoGen struct {
	mu        sync.Mutex
	calls     int
	failCalls map[int]bool // 1-based submit ordinal
	asJobs    bool
	polls     int
}

func (f *fakeVideoGen) Submit(ctx context.Context, req videogen.Request) (videogen.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failCalls[f.calls] {
		return videogen.Submission{}, fmt.Errorf("generation service unavailable")
	}
	if f.asJobs {
		return videogen.Submission{JobID: fmt.Sprintf("job-%d", f.calls)}, nil
	}
	return videogen.Submission{VideoURL: fmt.Sprintf("https://cdn.example.com/%d.mp4", f.calls)}, nil
}

func (f *fakeVideoGen) Poll(ctx context.Context, jobID string) (videogen.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return videogen.PollResult{VideoURL: "https://cdn.example.com/" + jobID + ".mp4"}, nil
}

func (f *fakeVideoGen) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore maps URLs to deterministic handles without touching disk.
type fakeStore struct {
	mu    sync.Mutex
	puts  int
	fetch []string
}

func (f *fakeStore) Put(r io.Reader, ext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	return fmt.Sprintf("stored/%d%s", f.puts, ext), nil
}

func (f *fakeStore) PutFromURL(ctx context.Context, srcURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	return fmt.Sprintf("stored/%d.mp4", f.puts), nil
}

func (f *fakeStore) Fetch(handle, destPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetch = append(f.fetch, handle)
	return nil
}

func (f *fakeStore) URL(handle string) string {
	return "/api/v1/videos/download/" + handle
}

// fakeMerger records every merge and returns a deterministic handle.
// failAfter > 0 makes every call past that ordinal fail.
type fakeMerger struct {
	mu        sync.Mutex
	calls     int
	merges    [][]string
	failAfter int
}

func (f *fakeMerger) MergeHandles(ctx context.Context, handles []string) (string, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAfter > 0 && f.calls > f.failAfter {
		return "", 0, fmt.Errorf("ffmpeg exited with status 1")
	}
	f.merges = append(f.merges, append([]string(nil), handles...))
	return fmt.Sprintf("merged/%d.mp4", len(f.merges)), float64(len(handles) * 5), nil
}

func (f *fakeMerger) mergedInputs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.merges
}

// fakeRelay collects published events in order.
type fakeRelay struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeRelay) Publish(filmID uint, event events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRelay) typesSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, e := range f.events {
		types[i] = e.Type
	}
	return types
}

// fakeLocker grants every claim and records releases.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	deny     bool
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) AcquireLock(key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny || f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) ReleaseLock(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	f.released = append(f.released, key)
	return nil
}

func createTestFilm(t *testing.T, db *gorm.DB, mode models.GenerationMode, chapters int) *models.Film {
	t.Helper()
	film := &models.Film{
		Title:           "The Door Under the Sea",
		Mode:            mode,
		ChapterCount:    chapters,
		WordsPerChapter: 500,
		FrameSize:       "16:9",
		GenerationStage: models.StageIdle,
		UserID:          1,
	}
	require.NoError(t, db.Create(film).Error)
	return film
}

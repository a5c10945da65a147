package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"film-forge-server/models"
	"film-forge-server/pkg/cache"
)

type pipelineFixture struct {
	db     *gorm.DB
	texter *fakeTexter
	video  *fakeVideoGen
	store  *fakeStore
	merger *fakeMerger
	relay  *fakeRelay
	locker *fakeLocker
	svc    *PipelineService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		db:     newTestDB(t),
		texter: &fakeTexter{},
		video:  &fakeVideoGen{},
		store:  &fakeStore{},
		merger: &fakeMerger{},
		relay:  &fakeRelay{},
		locker: newFakeLocker(),
	}
	story := NewStoryService(f.db, f.texter)
	f.svc = NewPipelineService(
		f.db, story, f.video, f.store, f.merger, f.relay,
		f.locker, func(uint) error { return nil }, testPipelineConfig(),
	)
	return f
}

func (f *pipelineFixture) reloadFilm(t *testing.T, id uint) *models.Film {
	t.Helper()
	var film models.Film
	require.NoError(t, f.db.First(&film, id).Error)
	return &film
}

func (f *pipelineFixture) loadChapters(t *testing.T, filmID uint) []models.Chapter {
	t.Helper()
	var chapters []models.Chapter
	require.NoError(t, f.db.Where("film_id = ?", filmID).Order("chapter_number").Find(&chapters).Error)
	return chapters
}

func TestRunFreeformFilmEndToEnd(t *testing.T) {
	f := newPipelineFixture(t)
	film := createTestFilm(t, f.db, models.ModeFreeform, 2)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageCompleted, got.GenerationStage)
	assert.NotEmpty(t, got.FinalVideoHandle)
	// 2 chapters x 2 scenes x 5 seconds
	assert.Equal(t, 20.0, got.TotalDuration)

	chapters := f.loadChapters(t, film.ID)
	require.Len(t, chapters, 2)
	for i, ch := range chapters {
		assert.Equal(t, i+1, ch.ChapterNumber)
		assert.Equal(t, models.ChapterCompleted, ch.Status)
		assert.NotEmpty(t, ch.Content)
		assert.Len(t, ch.ScenePrompts, 2)
		assert.NotEmpty(t, ch.MergedVideoHandle)
		assert.Equal(t, 10.0, ch.EstimatedDuration)
		for _, frame := range ch.VideoFrames {
			assert.True(t, frame.Usable())
		}
	}

	var framework models.StoryFramework
	require.NoError(t, f.db.Where("film_id = ?", film.ID).First(&framework).Error)
	assert.NotEmpty(t, framework.Premise)

	// 2 per-chapter merges plus the final merge.
	assert.Len(t, f.merger.mergedInputs(), 3)

	types := f.relay.typesSeen()
	assert.Contains(t, types, "stage_changed")
	assert.Contains(t, types, "scene_completed")
	assert.Equal(t, "film_completed", types[len(types)-1])

	// The run claim is always released.
	assert.Contains(t, f.locker.released, cache.FilmRunLockKey(film.ID))
}

func TestRunPollsJobsWithoutDirectURLs(t *testing.T) {
	f := newPipelineFixture(t)
	f.video.asJobs = true
	film := createTestFilm(t, f.db, models.ModeFreeform, 1)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageCompleted, got.GenerationStage)
	assert.GreaterOrEqual(t, f.video.polls, 2, "every job should be polled")

	chapters := f.loadChapters(t, film.ID)
	require.Len(t, chapters, 1)
	for _, frame := range chapters[0].VideoFrames {
		assert.NotEmpty(t, frame.JobID)
		assert.True(t, frame.Usable())
	}
}

func TestRunIsolatesSceneFailures(t *testing.T) {
	f := newPipelineFixture(t)
	// Third submission is chapter 2, scene 1.
	f.video.failCalls = map[int]bool{3: true}
	film := createTestFilm(t, f.db, models.ModeFreeform, 2)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageCompleted, got.GenerationStage, "a partial film still completes")
	assert.Equal(t, 10.0, got.TotalDuration, "only the surviving chapter counts")

	chapters := f.loadChapters(t, film.ID)
	require.Len(t, chapters, 2)
	assert.Equal(t, models.ChapterCompleted, chapters[0].Status)
	assert.Equal(t, models.ChapterFailed, chapters[1].Status)
	assert.Empty(t, chapters[1].MergedVideoHandle)
	assert.Equal(t, models.FrameFailed, chapters[1].VideoFrames[0].Status)
	assert.Equal(t, models.FrameCompleted, chapters[1].VideoFrames[1].Status,
		"a failed sibling must not stop the remaining scenes")

	// Final merge saw only chapter 1's merged handle.
	merges := f.merger.mergedInputs()
	require.Len(t, merges, 2)
	assert.Len(t, merges[1], 1)
}

func TestRunIsolatesChapterGenerationFailures(t *testing.T) {
	f := newPipelineFixture(t)
	f.texter.failChapterCalls = map[int]bool{1: true}
	film := createTestFilm(t, f.db, models.ModeFreeform, 2)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageCompleted, got.GenerationStage)

	chapters := f.loadChapters(t, film.ID)
	require.Len(t, chapters, 2)
	assert.Equal(t, models.ChapterFailed, chapters[0].Status)
	assert.Empty(t, chapters[0].Content)
	assert.NotEmpty(t, chapters[0].ErrorMessage)
	assert.Equal(t, models.ChapterCompleted, chapters[1].Status)
}

func TestRunCompletesWithNoUsableChapters(t *testing.T) {
	f := newPipelineFixture(t)
	f.texter.failChapterCalls = map[int]bool{1: true, 2: true}
	film := createTestFilm(t, f.db, models.ModeFreeform, 2)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageCompleted, got.GenerationStage)
	assert.Empty(t, got.FinalVideoHandle)
	assert.Zero(t, got.TotalDuration)
	assert.Empty(t, f.merger.mergedInputs())
}

func TestRunStructuredModeThreadsHookIntoClimax(t *testing.T) {
	f := newPipelineFixture(t)
	film := createTestFilm(t, f.db, models.ModeStructured18, 18)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	chapters := f.loadChapters(t, film.ID)
	require.Len(t, chapters, models.StructuredChapterCount)
	assert.Equal(t, "hook", chapters[0].ChapterType)
	assert.Equal(t, "climax", chapters[models.ClimaxChapterNumber-1].ChapterType)
	assert.Equal(t, "final_image", chapters[17].ChapterType)

	// The climax request carries chapter 1's full text verbatim.
	hookContent := chapters[0].Content
	require.NotEmpty(t, hookContent)
	var climaxPrompt string
	for _, prompt := range f.texter.userPrompts() {
		if strings.Contains(prompt, "You are writing chapter 16 of 18") {
			climaxPrompt = prompt
		}
	}
	require.NotEmpty(t, climaxPrompt)
	assert.Contains(t, climaxPrompt, hookContent)
	assert.Contains(t, climaxPrompt, "symbolic artifact")
}

func TestRunResumesFromVideoStage(t *testing.T) {
	f := newPipelineFixture(t)
	film := createTestFilm(t, f.db, models.ModeFreeform, 1)

	// Simulate a crash after prompts were split and one scene finished.
	require.NoError(t, f.db.Model(film).Update("generation_stage", models.StageGeneratingVideos).Error)
	chapter := models.Chapter{
		FilmID:        film.ID,
		ChapterNumber: 1,
		Title:         "Written before the crash",
		Content:       "Persisted chapter text.",
		VideoPrompt:   "fallback prompt",
		ScenePrompts:  models.StringArray{"scene one", "scene two"},
		VideoFrames: models.VideoFrameList{
			{FrameNumber: 1, Prompt: "scene one", Status: models.FrameCompleted, VideoHandle: "stored/pre.mp4"},
			{FrameNumber: 2, Prompt: "scene two", Status: models.FramePending},
		},
		Status: models.ChapterGeneratingVideos,
	}
	require.NoError(t, f.db.Create(&chapter).Error)
	// Framework also survived the crash.
	require.NoError(t, f.db.Create(&models.StoryFramework{FilmID: film.ID, Premise: "p", Hook: "h"}).Error)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageCompleted, got.GenerationStage)

	// Only the pending frame was submitted; nothing was re-written or re-split.
	assert.Equal(t, 1, f.video.submitCount())
	assert.Empty(t, f.texter.userPrompts())

	chapters := f.loadChapters(t, film.ID)
	require.Len(t, chapters, 1)
	assert.Equal(t, "stored/pre.mp4", chapters[0].VideoFrames[0].VideoHandle,
		"completed frames keep their original result")
	assert.True(t, chapters[0].VideoFrames[1].Usable())
}

func TestRunReattemptsFailedChaptersOnRestart(t *testing.T) {
	f := newPipelineFixture(t)
	film := createTestFilm(t, f.db, models.ModeFreeform, 1)
	require.NoError(t, f.db.Model(film).Update("generation_stage", models.StageFailed).Error)
	chapter := models.Chapter{
		FilmID:        film.ID,
		ChapterNumber: 1,
		Status:        models.ChapterFailed,
		ErrorMessage:  "model overloaded",
	}
	require.NoError(t, f.db.Create(&chapter).Error)
	require.NoError(t, f.db.Create(&models.StoryFramework{FilmID: film.ID, Premise: "p", Hook: "h"}).Error)

	require.NoError(t, f.svc.Run(context.Background(), film.ID))

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageCompleted, got.GenerationStage)

	chapters := f.loadChapters(t, film.ID)
	require.Len(t, chapters, 1)
	assert.Equal(t, chapter.ID, chapters[0].ID, "the failed row is reused, not duplicated")
	assert.Equal(t, models.ChapterCompleted, chapters[0].Status)
	assert.NotEmpty(t, chapters[0].Content)
}

func TestRunFailsFilmWhenFrameworkGenerationFails(t *testing.T) {
	f := newPipelineFixture(t)
	film := createTestFilm(t, f.db, models.ModeFreeform, 2)

	// Framework is the very first adapter call; poison everything.
	story := NewStoryService(f.db, failingTexter{})
	f.svc = NewPipelineService(
		f.db, story, f.video, f.store, f.merger, f.relay,
		f.locker, func(uint) error { return nil }, testPipelineConfig(),
	)

	err := f.svc.Run(context.Background(), film.ID)
	require.Error(t, err)

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageFailed, got.GenerationStage)
	assert.NotEmpty(t, got.ErrorMessage)

	types := f.relay.typesSeen()
	assert.Equal(t, "film_failed", types[len(types)-1])
	assert.Contains(t, f.locker.released, cache.FilmRunLockKey(film.ID))
}

func TestRunFailsFilmWhenFinalMergeFails(t *testing.T) {
	f := newPipelineFixture(t)
	film := createTestFilm(t, f.db, models.ModeFreeform, 1)

	// Per-chapter merges succeed, then the final merge breaks.
	f.merger.failAfter = 1

	err := f.svc.Run(context.Background(), film.ID)
	require.Error(t, err)

	got := f.reloadFilm(t, film.ID)
	assert.Equal(t, models.StageFailed, got.GenerationStage)
	assert.Empty(t, got.FinalVideoHandle)
}

func TestRunRejectsCompletedFilms(t *testing.T) {
	f := newPipelineFixture(t)
	film := createTestFilm(t, f.db, models.ModeFreeform, 1)
	require.NoError(t, f.db.Model(film).Update("generation_stage", models.StageCompleted).Error)

	err := f.svc.Run(context.Background(), film.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestStartRunClaimsTheFilm(t *testing.T) {
	f := newPipelineFixture(t)
	enqueued := 0
	f.svc = NewPipelineService(
		f.db, NewStoryService(f.db, f.texter), f.video, f.store, f.merger, f.relay,
		f.locker, func(uint) error { enqueued++; return nil }, testPipelineConfig(),
	)
	film := createTestFilm(t, f.db, models.ModeFreeform, 1)

	require.NoError(t, f.svc.StartRun(film.ID))
	assert.Equal(t, 1, enqueued)

	// Second start while the claim is held is a conflict.
	err := f.svc.StartRun(film.ID)
	require.ErrorIs(t, err, ErrRunInProgress)
}

func TestStartRunRejectsUnknownAndCompletedFilms(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.svc.StartRun(999)
	require.ErrorIs(t, err, ErrFilmNotFound)

	film := createTestFilm(t, f.db, models.ModeFreeform, 1)
	require.NoError(t, f.db.Model(film).Update("generation_stage", models.StageCompleted).Error)
	err = f.svc.StartRun(film.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
}

// failingTexter errors on every call.
type failingTexter struct{}

func (failingTexter) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", context.DeadlineExceeded
}

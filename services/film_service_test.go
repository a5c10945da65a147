package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"film-forge-server/models"
)

func TestCreateFilmDefaults(t *testing.T) {
	db := newTestDB(t)
	svc := NewFilmService(db, nil)

	film, err := svc.CreateFilm(1, &models.FilmCreateRequest{Title: "Tidewater"})
	require.NoError(t, err)
	assert.Equal(t, models.ModeFreeform, film.Mode)
	assert.Equal(t, 3, film.ChapterCount)
	assert.Equal(t, 500, film.WordsPerChapter)
	assert.Equal(t, "16:9", film.FrameSize)
	assert.Equal(t, models.StageIdle, film.GenerationStage)
}

func TestCreateFilmStructuredModeForcesEighteenChapters(t *testing.T) {
	db := newTestDB(t)
	svc := NewFilmService(db, nil)

	film, err := svc.CreateFilm(1, &models.FilmCreateRequest{
		Title:        "Tidewater",
		Mode:         string(models.ModeStructured18),
		ChapterCount: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StructuredChapterCount, film.ChapterCount)
}

func TestGetFilmIsUserScoped(t *testing.T) {
	db := newTestDB(t)
	svc := NewFilmService(db, nil)

	film, err := svc.CreateFilm(1, &models.FilmCreateRequest{Title: "Mine"})
	require.NoError(t, err)

	_, err = svc.GetFilm(2, film.ID)
	require.ErrorIs(t, err, ErrFilmNotFound)

	got, err := svc.GetFilm(1, film.ID)
	require.NoError(t, err)
	assert.Equal(t, film.ID, got.ID)
}

func TestDeleteFilmRemovesChaptersAndFramework(t *testing.T) {
	db := newTestDB(t)
	svc := NewFilmService(db, nil)

	film, err := svc.CreateFilm(1, &models.FilmCreateRequest{Title: "Doomed"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Chapter{FilmID: film.ID, ChapterNumber: 1}).Error)
	require.NoError(t, db.Create(&models.StoryFramework{FilmID: film.ID, Premise: "p"}).Error)

	require.NoError(t, svc.DeleteFilm(1, film.ID))

	_, err = svc.GetFilm(1, film.ID)
	require.ErrorIs(t, err, ErrFilmNotFound)

	var chapters int64
	require.NoError(t, db.Model(&models.Chapter{}).Where("film_id = ?", film.ID).Count(&chapters).Error)
	assert.Zero(t, chapters)
}

func TestProjectProgressWeights(t *testing.T) {
	film := &models.Film{
		ID:              7,
		Mode:            models.ModeFreeform,
		ChapterCount:    2,
		GenerationStage: models.StageGeneratingVideos,
	}

	chapters := []models.Chapter{
		{
			ChapterNumber: 1,
			Content:       "written",
			ScenePrompts:  models.StringArray{"a", "b"},
			Status:        models.ChapterCompleted,
			VideoFrames: models.VideoFrameList{
				{FrameNumber: 1, Status: models.FrameCompleted, VideoHandle: "h1"},
				{FrameNumber: 2, Status: models.FrameCompleted, VideoHandle: "h2"},
			},
			EstimatedDuration: 10,
		},
		{
			ChapterNumber: 2,
			Content:       "written",
			ScenePrompts:  models.StringArray{"c", "d"},
			Status:        models.ChapterGeneratingVideos,
			VideoFrames: models.VideoFrameList{
				{FrameNumber: 1, Status: models.FrameCompleted, VideoHandle: "h3"},
				{FrameNumber: 2, Status: models.FrameFailed},
			},
		},
	}

	p := projectProgress(film, chapters)

	assert.Equal(t, 2, p.WrittenChapters)
	assert.Equal(t, 2, p.PromptedChapters)
	assert.Equal(t, 4, p.TotalScenes)
	assert.Equal(t, 3, p.CompletedScenes)
	assert.Equal(t, 1, p.FailedScenes)
	assert.Equal(t, 1, p.MergedChapters)

	// 30 (all chapters written) + 10 (all prompted) + 40*3/4 + 20*1/2
	assert.Equal(t, 80, p.Percent)
	assert.Equal(t, "00:10", p.EstimatedDuration)
}

func TestProjectProgressTerminalStages(t *testing.T) {
	done := &models.Film{ID: 1, ChapterCount: 3, GenerationStage: models.StageCompleted, TotalDuration: 95}
	p := projectProgress(done, nil)
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, "01:35", p.EstimatedDuration)

	idle := &models.Film{ID: 2, ChapterCount: 3, GenerationStage: models.StageIdle}
	assert.Equal(t, 0, projectProgress(idle, nil).Percent)
}

func TestProjectProgressNeverReportsHundredMidRun(t *testing.T) {
	film := &models.Film{ID: 3, ChapterCount: 1, GenerationStage: models.StageMergingFinal}
	chapters := []models.Chapter{{
		ChapterNumber: 1,
		Content:       "written",
		ScenePrompts:  models.StringArray{"a"},
		Status:        models.ChapterCompleted,
		VideoFrames: models.VideoFrameList{
			{FrameNumber: 1, Status: models.FrameCompleted, VideoHandle: "h"},
		},
		EstimatedDuration: 5,
	}}

	p := projectProgress(film, chapters)
	assert.Equal(t, 99, p.Percent, "100 is reserved for the completed stage")
}

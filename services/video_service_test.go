package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"film-forge-server/models"
)

func newVideoFixture(t *testing.T) (*VideoService, *fakeVideoGen, *fakeStore) {
	t.Helper()
	db := newTestDB(t)
	video := &fakeVideoGen{}
	store := &fakeStore{}
	svc := NewVideoService(db, video, store, func(uint) error { return nil }, testPipelineConfig())
	return svc, video, store
}

func TestCreateVideoAppliesDefaults(t *testing.T) {
	svc, _, _ := newVideoFixture(t)

	video, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "a lighthouse at night"})
	require.NoError(t, err)
	assert.Equal(t, models.VideoProcessing, video.Status)
	assert.Equal(t, 5, video.Seconds)
	assert.Equal(t, "16:9", video.AspectRatio)
}

func TestProcessVideoTaskCompletesDirectURL(t *testing.T) {
	svc, _, _ := newVideoFixture(t)

	video, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "p"})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessVideoTask(context.Background(), video.ID))

	got, err := svc.GetVideo(1, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoCompleted, got.Status)
	assert.NotEmpty(t, got.VideoHandle)
}

func TestProcessVideoTaskPollsJobs(t *testing.T) {
	svc, gen, _ := newVideoFixture(t)
	gen.asJobs = true

	video, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "p"})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessVideoTask(context.Background(), video.ID))

	got, err := svc.GetVideo(1, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoCompleted, got.Status)
	assert.Equal(t, "job-1", got.JobID)
}

func TestProcessVideoTaskAbsorbsAdapterFailures(t *testing.T) {
	svc, gen, _ := newVideoFixture(t)
	gen.failCalls = map[int]bool{1: true}

	video, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "p"})
	require.NoError(t, err)

	// The worker must not bounce the task back to the queue.
	require.NoError(t, svc.ProcessVideoTask(context.Background(), video.ID))

	got, err := svc.GetVideo(1, video.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestProcessVideoTaskIsIdempotentOnCompleted(t *testing.T) {
	svc, gen, _ := newVideoFixture(t)

	video, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessVideoTask(context.Background(), video.ID))

	before := gen.submitCount()
	require.NoError(t, svc.ProcessVideoTask(context.Background(), video.ID))
	assert.Equal(t, before, gen.submitCount(), "completed videos are never regenerated")
}

func TestListVideosFiltersByStatus(t *testing.T) {
	svc, gen, _ := newVideoFixture(t)
	gen.failCalls = map[int]bool{2: true}

	first, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "a"})
	require.NoError(t, err)
	second, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "b"})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessVideoTask(context.Background(), first.ID))
	require.NoError(t, svc.ProcessVideoTask(context.Background(), second.ID))

	completed, total, err := svc.ListVideos(1, &models.VideoListRequest{Status: string(models.VideoCompleted)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, completed, 1)
	assert.Equal(t, first.ID, completed[0].ID)
}

func TestGetVideoIsUserScoped(t *testing.T) {
	svc, _, _ := newVideoFixture(t)

	video, err := svc.CreateVideo(1, &models.VideoGenerateRequest{Prompt: "p"})
	require.NoError(t, err)

	_, err = svc.GetVideo(2, video.ID)
	require.ErrorIs(t, err, ErrVideoNotFound)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"film-forge-server/config"
	"film-forge-server/models"
	"film-forge-server/pkg/cache"
	"film-forge-server/pkg/events"
	"film-forge-server/pkg/logger"
	"film-forge-server/pkg/storage"
	"film-forge-server/pkg/videogen"
)

var (
	ErrFilmNotFound     = errors.New("film not found")
	ErrRunInProgress    = errors.New("a generation run is already in progress for this film")
	ErrAlreadyCompleted = errors.New("film generation is already completed")
)

// Merger is the slice of the merge engine the pipeline needs.
type Merger interface {
	MergeHandles(ctx context.Context, handles []string) (handle string, duration float64, err error)
}

// RunLocker is the persisted claim that keeps two runs off the same film.
// The stage guard alone is advisory and racy.
type RunLocker interface {
	AcquireLock(key string, ttl time.Duration) (bool, error)
	ReleaseLock(key string) error
}

// PipelineService drives a film from its current stage to completed or
// failed, persisting every unit of progress so a crashed run resumes instead
// of restarting. Stages run strictly sequentially; per-chapter and per-scene
// failures are isolated, only setup and final-merge errors fail the film.
type PipelineService struct {
	db      *gorm.DB
	story   *StoryService
	video   videogen.Generator
	store   storage.Store
	merger  Merger
	relay   events.Relay
	locker  RunLocker
	enqueue func(filmID uint) error
	cfg     config.PipelineConfig
	lockTTL time.Duration
}

func NewPipelineService(
	db *gorm.DB,
	story *StoryService,
	video videogen.Generator,
	store storage.Store,
	merger Merger,
	relay events.Relay,
	locker RunLocker,
	enqueue func(filmID uint) error,
	cfg config.PipelineConfig,
) *PipelineService {
	return &PipelineService{
		db:      db,
		story:   story,
		video:   video,
		store:   store,
		merger:  merger,
		relay:   relay,
		locker:  locker,
		enqueue: enqueue,
		cfg:     cfg,
		lockTTL: 6 * time.Hour,
	}
}

// StartRun claims the film and enqueues a background generation run. The
// HTTP caller returns immediately; the queue worker executes Run.
func (p *PipelineService) StartRun(filmID uint) error {
	var film models.Film
	if err := p.db.First(&film, filmID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFilmNotFound
		}
		return err
	}

	if film.GenerationStage == models.StageCompleted {
		return ErrAlreadyCompleted
	}

	ok, err := p.locker.AcquireLock(cache.FilmRunLockKey(film.ID), p.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to claim film %d: %w", film.ID, err)
	}
	if !ok {
		return ErrRunInProgress
	}

	if err := p.enqueue(film.ID); err != nil {
		p.locker.ReleaseLock(cache.FilmRunLockKey(film.ID))
		return fmt.Errorf("failed to enqueue generation run: %w", err)
	}

	return nil
}

// Run executes the full stage sequence for one film. A film crashed
// mid-pipeline resumes at its persisted stage; idle and failed films start
// over from chapter generation, skipping units that already completed.
func (p *PipelineService) Run(ctx context.Context, filmID uint) error {
	defer p.locker.ReleaseLock(cache.FilmRunLockKey(filmID))

	var film models.Film
	if err := p.db.First(&film, filmID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFilmNotFound
		}
		return err
	}

	if film.GenerationStage == models.StageCompleted {
		return ErrAlreadyCompleted
	}

	logger.WithFields(map[string]interface{}{
		"film_id": film.ID,
		"stage":   film.GenerationStage,
		"mode":    film.Mode,
	}).Info("Starting generation run")

	stages := []struct {
		stage models.GenerationStage
		work  func(ctx context.Context, film *models.Film) error
	}{
		{models.StageGeneratingChapters, p.runChapterStage},
		{models.StageGeneratingPrompts, p.runPromptStage},
		{models.StageGeneratingVideos, p.runVideoStage},
		{models.StageMergingChapters, p.runChapterMergeStage},
		{models.StageMergingFinal, p.runFinalMergeStage},
	}

	// Resume at the persisted stage; earlier stages are already done.
	start := 0
	for i, st := range stages {
		if film.GenerationStage == st.stage {
			start = i
		}
	}

	for _, st := range stages[start:] {
		if err := p.setStage(&film, st.stage); err != nil {
			return p.failFilm(&film, err)
		}
		if err := st.work(ctx, &film); err != nil {
			return p.failFilm(&film, err)
		}
	}

	if err := p.setStage(&film, models.StageCompleted); err != nil {
		return p.failFilm(&film, err)
	}

	p.relay.Publish(film.ID, events.Event{Type: events.TypeFilmCompleted, Stage: string(models.StageCompleted)})
	logger.Infof("Film %d generation completed", film.ID)
	return nil
}

// setStage persists the stage transition before the stage's work starts.
// This ordering is the resumability contract.
func (p *PipelineService) setStage(film *models.Film, stage models.GenerationStage) error {
	if film.GenerationStage == stage {
		return nil
	}
	if !film.GenerationStage.CanTransition(stage) {
		return fmt.Errorf("illegal stage transition %s -> %s for film %d", film.GenerationStage, stage, film.ID)
	}

	if err := p.db.Model(film).Update("generation_stage", stage).Error; err != nil {
		return fmt.Errorf("failed to persist stage %s: %w", stage, err)
	}
	film.GenerationStage = stage

	p.relay.Publish(film.ID, events.Event{Type: events.TypeStageChanged, Stage: string(stage)})
	return nil
}

func (p *PipelineService) failFilm(film *models.Film, cause error) error {
	logger.Errorf("Film %d generation failed: %v", film.ID, cause)

	if !film.GenerationStage.IsTerminal() {
		if err := p.db.Model(film).Updates(map[string]interface{}{
			"generation_stage": models.StageFailed,
			"error_message":    cause.Error(),
		}).Error; err != nil {
			logger.Errorf("Failed to persist failed stage for film %d: %v", film.ID, err)
		}
		film.GenerationStage = models.StageFailed
	}

	p.relay.Publish(film.ID, events.Event{Type: events.TypeFilmFailed, Message: cause.Error()})
	return cause
}

// chapterTarget is the configured chapter count; structured mode always runs
// the full 18 positions.
func chapterTarget(film *models.Film) int {
	if film.Mode == models.ModeStructured18 {
		return models.StructuredChapterCount
	}
	if film.ChapterCount < 1 {
		return 1
	}
	return film.ChapterCount
}

// runChapterStage ensures the framework exists, then generates every missing
// chapter sequentially, threading titles, summaries, the artifact chain and
// (structured mode) the verbatim hook text forward for continuity.
func (p *PipelineService) runChapterStage(ctx context.Context, film *models.Film) error {
	framework, err := p.ensureFramework(ctx, film)
	if err != nil {
		// No framework means no film; this is a setup failure, not a unit failure.
		return fmt.Errorf("framework generation failed: %w", err)
	}

	var existing []models.Chapter
	if err := p.db.Where("film_id = ?", film.ID).Order("chapter_number").Find(&existing).Error; err != nil {
		return fmt.Errorf("failed to load chapters: %w", err)
	}

	byNumber := make(map[int]models.Chapter, len(existing))
	for _, ch := range existing {
		byNumber[ch.ChapterNumber] = ch
	}

	total := chapterTarget(film)

	var prior []models.Chapter
	var artifact models.Artifact
	var hookText string

	for n := 1; n <= total; n++ {
		if ch, ok := byNumber[n]; ok && ch.Content != "" {
			// Already generated on a previous run.
			prior = append(prior, ch)
			if n == models.HookChapterNumber {
				hookText = ch.Content
			}
			if !ch.Artifact.IsZero() {
				artifact = ch.Artifact
			}
			continue
		}

		chapter, err := p.story.GenerateChapter(ctx, ChapterRequest{
			Film:          film,
			Framework:     framework,
			ChapterNumber: n,
			TotalChapters: total,
			Prior:         prior,
			HookText:      hookText,
			Artifact:      artifact,
		})
		if err != nil {
			// Per-unit failure: record it and keep going with the siblings.
			logger.Errorf("Chapter %d generation failed for film %d: %v", n, film.ID, err)
			p.persistFailedChapter(film, n, err, byNumber[n])
			p.relay.Publish(film.ID, events.Event{Type: events.TypeChapterFailed, ChapterNumber: n, Message: err.Error()})
			continue
		}

		if prev, ok := byNumber[n]; ok {
			chapter.ID = prev.ID
			chapter.CreatedAt = prev.CreatedAt
		}
		if err := p.db.Save(chapter).Error; err != nil {
			return fmt.Errorf("failed to persist chapter %d: %w", n, err)
		}

		p.relay.Publish(film.ID, events.Event{Type: events.TypeChapterStarted, ChapterNumber: n})

		prior = append(prior, *chapter)
		if n == models.HookChapterNumber {
			hookText = chapter.Content
		}
		if !chapter.Artifact.IsZero() {
			artifact = chapter.Artifact
		}
	}

	return nil
}

func (p *PipelineService) persistFailedChapter(film *models.Film, number int, cause error, prev models.Chapter) {
	chapter := models.Chapter{
		ID:            prev.ID,
		FilmID:        film.ID,
		ChapterNumber: number,
		Status:        models.ChapterFailed,
		ErrorMessage:  cause.Error(),
		CreatedAt:     prev.CreatedAt,
	}
	if film.Mode == models.ModeStructured18 {
		if beat, ok := models.BeatForChapter(number); ok {
			chapter.ChapterType = beat.Type
		}
	}
	if err := p.db.Save(&chapter).Error; err != nil {
		logger.Errorf("Failed to persist failed chapter %d of film %d: %v", number, film.ID, err)
	}
}

func (p *PipelineService) ensureFramework(ctx context.Context, film *models.Film) (*models.StoryFramework, error) {
	var framework models.StoryFramework
	err := p.db.Where("film_id = ?", film.ID).First(&framework).Error
	if err == nil {
		return &framework, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return p.story.GenerateFramework(ctx, film)
}

// runPromptStage splits every chapter that does not yet have scene prompts.
// A chapter that already has prompts is never re-split and never mutated.
func (p *PipelineService) runPromptStage(ctx context.Context, film *models.Film) error {
	var chapters []models.Chapter
	if err := p.db.Where("film_id = ?", film.ID).Order("chapter_number").Find(&chapters).Error; err != nil {
		return fmt.Errorf("failed to load chapters: %w", err)
	}

	for i := range chapters {
		chapter := &chapters[i]

		if len(chapter.ScenePrompts) > 0 {
			continue // idempotent resume: no adapter call, no mutation
		}
		if chapter.Content == "" {
			continue // chapter generation failed; nothing to split
		}

		if err := p.transitionChapter(chapter, models.ChapterGeneratingPrompts); err != nil {
			logger.Warnf("Skipping prompt split for chapter %d: %v", chapter.ChapterNumber, err)
			continue
		}

		prompts, err := p.story.SplitScenes(ctx, chapter, p.cfg.ScenesPerChapter)
		if err != nil {
			logger.Errorf("Scene split failed for chapter %d of film %d: %v", chapter.ChapterNumber, film.ID, err)
			p.markChapterFailed(chapter, err)
			continue
		}

		frames := make(models.VideoFrameList, len(prompts))
		for j, prompt := range prompts {
			frames[j] = models.VideoFrame{
				FrameNumber: j + 1,
				Prompt:      prompt,
				Status:      models.FramePending,
			}
		}

		if err := p.db.Model(chapter).Updates(map[string]interface{}{
			"scene_prompts": models.StringArray(prompts),
			"video_frames":  frames,
		}).Error; err != nil {
			return fmt.Errorf("failed to persist scene prompts for chapter %d: %w", chapter.ChapterNumber, err)
		}
		chapter.ScenePrompts = prompts
		chapter.VideoFrames = frames
	}

	return nil
}

// runVideoStage drives every pending or failed frame through the video
// adapter, one at a time. A frame failure fails its chapter but never its
// siblings.
func (p *PipelineService) runVideoStage(ctx context.Context, film *models.Film) error {
	var chapters []models.Chapter
	if err := p.db.Where("film_id = ?", film.ID).Order("chapter_number").Find(&chapters).Error; err != nil {
		return fmt.Errorf("failed to load chapters: %w", err)
	}

	for i := range chapters {
		chapter := &chapters[i]

		if chapter.Status == models.ChapterCompleted || chapter.Status == models.ChapterMerging {
			continue
		}
		if len(chapter.VideoFrames) == 0 {
			if chapter.Status != models.ChapterFailed {
				p.markChapterFailed(chapter, fmt.Errorf("no scene prompts to render"))
			}
			continue
		}

		if err := p.transitionChapter(chapter, models.ChapterGeneratingVideos); err != nil {
			logger.Warnf("Skipping video generation for chapter %d: %v", chapter.ChapterNumber, err)
			continue
		}
		p.relay.Publish(film.ID, events.Event{Type: events.TypeChapterStarted, ChapterNumber: chapter.ChapterNumber})

		for j := range chapter.VideoFrames {
			frame := &chapter.VideoFrames[j]
			if frame.Usable() {
				continue // completed on a previous run
			}
			p.processFrame(ctx, film, chapter, frame)
		}

		allUsable := true
		for _, frame := range chapter.VideoFrames {
			if !frame.Usable() {
				allUsable = false
				break
			}
		}

		if allUsable {
			if err := p.transitionChapter(chapter, models.ChapterMerging); err != nil {
				return err
			}
		} else {
			p.markChapterFailed(chapter, fmt.Errorf("one or more scenes failed to generate"))
			p.relay.Publish(film.ID, events.Event{Type: events.TypeChapterFailed, ChapterNumber: chapter.ChapterNumber})
		}
	}

	return nil
}

// processFrame runs one scene to a terminal frame status. All failures are
// absorbed into the frame; nothing is thrown.
func (p *PipelineService) processFrame(ctx context.Context, film *models.Film, chapter *models.Chapter, frame *models.VideoFrame) {
	frame.Status = models.FrameProcessing
	frame.VideoHandle = ""
	p.persistFrames(chapter)
	p.relay.Publish(film.ID, events.Event{
		Type:          events.TypeSceneStarted,
		ChapterNumber: chapter.ChapterNumber,
		FrameNumber:   frame.FrameNumber,
	})

	failFrame := func(cause error) {
		logger.Errorf("Scene %d of chapter %d failed: %v", frame.FrameNumber, chapter.ChapterNumber, cause)
		frame.Status = models.FrameFailed
		p.persistFrames(chapter)
		p.relay.Publish(film.ID, events.Event{
			Type:          events.TypeSceneFailed,
			ChapterNumber: chapter.ChapterNumber,
			FrameNumber:   frame.FrameNumber,
			Message:       cause.Error(),
		})
	}

	submission, err := p.video.Submit(ctx, videogen.Request{
		Prompt:      frame.Prompt,
		Model:       film.VideoModel,
		Seconds:     p.cfg.SceneSeconds,
		AspectRatio: film.FrameSize,
	})
	if err != nil {
		failFrame(err)
		return
	}

	videoURL := submission.VideoURL
	if videoURL == "" {
		frame.JobID = submission.JobID
		p.persistFrames(chapter)

		result, err := videogen.AwaitCompletion(ctx, p.video, submission.JobID, videogen.RetryPolicy{
			Interval:    p.cfg.PollInterval,
			MaxAttempts: p.cfg.PollMaxAttempts,
		})
		if err != nil {
			failFrame(err)
			return
		}
		if result.Failed {
			failFrame(fmt.Errorf("video generation failed: %s", result.Message))
			return
		}
		videoURL = result.VideoURL
	}

	handle, err := p.store.PutFromURL(ctx, videoURL)
	if err != nil {
		failFrame(err)
		return
	}

	frame.Status = models.FrameCompleted
	frame.VideoHandle = handle
	p.persistFrames(chapter)
	p.relay.Publish(film.ID, events.Event{
		Type:          events.TypeSceneCompleted,
		ChapterNumber: chapter.ChapterNumber,
		FrameNumber:   frame.FrameNumber,
	})
}

// runChapterMergeStage concatenates every chapter in merging status in
// frame order. A merge failure fails that chapter only.
func (p *PipelineService) runChapterMergeStage(ctx context.Context, film *models.Film) error {
	var chapters []models.Chapter
	if err := p.db.Where("film_id = ? AND status = ?", film.ID, models.ChapterMerging).
		Order("chapter_number").Find(&chapters).Error; err != nil {
		return fmt.Errorf("failed to load merging chapters: %w", err)
	}

	for i := range chapters {
		chapter := &chapters[i]

		frames := append(models.VideoFrameList(nil), chapter.VideoFrames...)
		sort.Slice(frames, func(a, b int) bool { return frames[a].FrameNumber < frames[b].FrameNumber })

		var handles []string
		for _, frame := range frames {
			if frame.Usable() {
				handles = append(handles, frame.VideoHandle)
			}
		}

		handle, _, err := p.merger.MergeHandles(ctx, handles)
		if err != nil {
			logger.Errorf("Merge failed for chapter %d of film %d: %v", chapter.ChapterNumber, film.ID, err)
			p.markChapterFailed(chapter, err)
			p.relay.Publish(film.ID, events.Event{Type: events.TypeChapterFailed, ChapterNumber: chapter.ChapterNumber})
			continue
		}

		duration := float64(len(handles) * p.cfg.SceneSeconds)
		if err := p.db.Model(chapter).Updates(map[string]interface{}{
			"merged_video_handle": handle,
			"estimated_duration":  duration,
			"status":              models.ChapterCompleted,
		}).Error; err != nil {
			return fmt.Errorf("failed to persist merged chapter %d: %w", chapter.ChapterNumber, err)
		}
		chapter.Status = models.ChapterCompleted
		chapter.MergedVideoHandle = handle
		chapter.EstimatedDuration = duration

		p.relay.Publish(film.ID, events.Event{Type: events.TypeChapterCompleted, ChapterNumber: chapter.ChapterNumber})
	}

	return nil
}

// runFinalMergeStage concatenates all completed chapters in chapter order.
// No completed chapters is degenerate success: the film completes with no
// final video. A merge failure here fails the film.
func (p *PipelineService) runFinalMergeStage(ctx context.Context, film *models.Film) error {
	var chapters []models.Chapter
	if err := p.db.Where("film_id = ? AND status = ? AND merged_video_handle <> ''", film.ID, models.ChapterCompleted).
		Order("chapter_number").Find(&chapters).Error; err != nil {
		return fmt.Errorf("failed to load completed chapters: %w", err)
	}

	if len(chapters) == 0 {
		logger.Warnf("Film %d has no completed chapters; completing without a final video", film.ID)
		return nil
	}

	handles := make([]string, 0, len(chapters))
	var total float64
	for _, chapter := range chapters {
		handles = append(handles, chapter.MergedVideoHandle)
		total += chapter.EstimatedDuration
	}

	handle, _, err := p.merger.MergeHandles(ctx, handles)
	if err != nil {
		return fmt.Errorf("final merge failed: %w", err)
	}

	if err := p.db.Model(film).Updates(map[string]interface{}{
		"final_video_handle": handle,
		"total_duration":     total,
	}).Error; err != nil {
		return fmt.Errorf("failed to persist final video: %w", err)
	}
	film.FinalVideoHandle = handle
	film.TotalDuration = total

	return nil
}

func (p *PipelineService) transitionChapter(chapter *models.Chapter, next models.ChapterStatus) error {
	if chapter.Status == next {
		return nil
	}
	if !chapter.Status.CanTransition(next) {
		return fmt.Errorf("illegal chapter transition %s -> %s", chapter.Status, next)
	}
	if err := p.db.Model(chapter).Update("status", next).Error; err != nil {
		return fmt.Errorf("failed to persist chapter status %s: %w", next, err)
	}
	chapter.Status = next
	return nil
}

func (p *PipelineService) markChapterFailed(chapter *models.Chapter, cause error) {
	if err := p.db.Model(chapter).Updates(map[string]interface{}{
		"status":        models.ChapterFailed,
		"error_message": cause.Error(),
	}).Error; err != nil {
		logger.Errorf("Failed to persist failed status for chapter %d: %v", chapter.ChapterNumber, err)
	}
	chapter.Status = models.ChapterFailed
	chapter.ErrorMessage = cause.Error()
}

func (p *PipelineService) persistFrames(chapter *models.Chapter) {
	if err := p.db.Model(chapter).Update("video_frames", chapter.VideoFrames).Error; err != nil {
		logger.Errorf("Failed to persist frames for chapter %d: %v", chapter.ChapterNumber, err)
	}
}

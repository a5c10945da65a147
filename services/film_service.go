package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"film-forge-server/models"
	"film-forge-server/pkg/cache"
	"film-forge-server/pkg/logger"
)

// FilmService 影片的增删查与进度投影，不触碰生成流水线本身
type FilmService struct {
	db       *gorm.DB
	progress ProgressCache
}

// ProgressCache is the optional read-through cache for progress projections.
// A nil cache disables caching entirely.
type ProgressCache interface {
	GetJSON(key string, dest interface{}) (bool, error)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
}

func NewFilmService(db *gorm.DB, progress ProgressCache) *FilmService {
	return &FilmService{db: db, progress: progress}
}

// CreateFilm 创建影片。结构化模式固定 18 章,忽略请求里的章节数
func (s *FilmService) CreateFilm(userID uint, req *models.FilmCreateRequest) (*models.Film, error) {
	film := models.Film{
		Title:           req.Title,
		Mode:            models.ModeFreeform,
		ChapterCount:    3,
		WordsPerChapter: 500,
		VideoModel:      req.VideoModel,
		FrameSize:       "16:9",
		NarratorVoice:   req.NarratorVoice,
		GenerationStage: models.StageIdle,
		UserID:          userID,
	}
	if req.Mode != "" {
		film.Mode = models.GenerationMode(req.Mode)
	}
	if req.ChapterCount > 0 {
		film.ChapterCount = req.ChapterCount
	}
	if req.WordsPerChapter > 0 {
		film.WordsPerChapter = req.WordsPerChapter
	}
	if req.FrameSize != "" {
		film.FrameSize = req.FrameSize
	}
	if film.Mode == models.ModeStructured18 {
		film.ChapterCount = models.StructuredChapterCount
	}

	if err := s.db.Create(&film).Error; err != nil {
		logger.Errorf("Failed to create film: %v", err)
		return nil, fmt.Errorf("failed to create film: %w", err)
	}

	logger.Infof("Film created: id=%d title=%q mode=%s", film.ID, film.Title, film.Mode)
	return &film, nil
}

// GetFilm 查询单部影片,带框架
func (s *FilmService) GetFilm(userID, filmID uint) (*models.Film, error) {
	var film models.Film
	err := s.db.Preload("Framework").
		Where("id = ? AND user_id = ?", filmID, userID).
		First(&film).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFilmNotFound
		}
		return nil, err
	}
	return &film, nil
}

// ListFilms 分页列出用户的影片
func (s *FilmService) ListFilms(userID uint, page, limit int) ([]models.Film, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.db.Model(&models.Film{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var films []models.Film
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&films).Error
	if err != nil {
		return nil, 0, err
	}

	return films, total, nil
}

// DeleteFilm 软删除影片及其章节
func (s *FilmService) DeleteFilm(userID, filmID uint) error {
	film, err := s.GetFilm(userID, filmID)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("film_id = ?", film.ID).Delete(&models.Chapter{}).Error; err != nil {
			return err
		}
		if err := tx.Where("film_id = ?", film.ID).Delete(&models.StoryFramework{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(film).Error; err != nil {
			return err
		}
		if s.progress != nil {
			s.progress.Delete(cache.FilmProgressCacheKey(film.ID))
		}
		return nil
	})
}

// GetChapters 按章节号升序返回影片的全部章节
func (s *FilmService) GetChapters(userID, filmID uint) ([]models.Chapter, error) {
	if _, err := s.GetFilm(userID, filmID); err != nil {
		return nil, err
	}

	var chapters []models.Chapter
	err := s.db.Where("film_id = ?", filmID).
		Order("chapter_number").
		Find(&chapters).Error
	if err != nil {
		return nil, err
	}
	return chapters, nil
}

// Stage weights of the progress projection. Chapters dominate early runs,
// video generation dominates wall-clock time.
const (
	weightChapters = 30
	weightPrompts  = 10
	weightVideos   = 40
	weightMerge    = 20
)

// FilmProgress is a pure projection over persisted state. It is recomputed
// on demand and never stored on the film row.
type FilmProgress struct {
	FilmID            uint                   `json:"film_id"`
	Stage             models.GenerationStage `json:"stage"`
	Percent           int                    `json:"percent"`
	TotalChapters     int                    `json:"total_chapters"`
	WrittenChapters   int                    `json:"written_chapters"`
	PromptedChapters  int                    `json:"prompted_chapters"`
	TotalScenes       int                    `json:"total_scenes"`
	CompletedScenes   int                    `json:"completed_scenes"`
	FailedScenes      int                    `json:"failed_scenes"`
	MergedChapters    int                    `json:"merged_chapters"`
	FailedChapters    int                    `json:"failed_chapters"`
	EstimatedDuration string                 `json:"estimated_duration"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
}

// GetProgress 汇总一部影片的生成进度
func (s *FilmService) GetProgress(userID, filmID uint) (*FilmProgress, error) {
	film, err := s.GetFilm(userID, filmID)
	if err != nil {
		return nil, err
	}

	if s.progress != nil {
		var cached FilmProgress
		if ok, err := s.progress.GetJSON(cache.FilmProgressCacheKey(film.ID), &cached); err == nil && ok {
			return &cached, nil
		}
	}

	var chapters []models.Chapter
	if err := s.db.Where("film_id = ?", film.ID).Order("chapter_number").Find(&chapters).Error; err != nil {
		return nil, err
	}

	progress := projectProgress(film, chapters)

	if s.progress != nil {
		if err := s.progress.Set(cache.FilmProgressCacheKey(film.ID), progress, 3*time.Second); err != nil {
			logger.Warnf("Failed to cache progress for film %d: %v", film.ID, err)
		}
	}

	return progress, nil
}

func projectProgress(film *models.Film, chapters []models.Chapter) *FilmProgress {
	p := &FilmProgress{
		FilmID:        film.ID,
		Stage:         film.GenerationStage,
		TotalChapters: chapterTarget(film),
		ErrorMessage:  film.ErrorMessage,
	}

	var duration float64
	for _, ch := range chapters {
		if ch.Content != "" {
			p.WrittenChapters++
		}
		if len(ch.ScenePrompts) > 0 {
			p.PromptedChapters++
		}
		for _, frame := range ch.VideoFrames {
			p.TotalScenes++
			switch frame.Status {
			case models.FrameCompleted:
				p.CompletedScenes++
			case models.FrameFailed:
				p.FailedScenes++
			}
		}
		switch ch.Status {
		case models.ChapterCompleted:
			p.MergedChapters++
			duration += ch.EstimatedDuration
		case models.ChapterFailed:
			p.FailedChapters++
		}
	}

	if film.TotalDuration > 0 {
		duration = film.TotalDuration
	}
	p.EstimatedDuration = formatDuration(duration)

	switch film.GenerationStage {
	case models.StageCompleted:
		p.Percent = 100
	case models.StageIdle:
		p.Percent = 0
	default:
		p.Percent = ratio(p.WrittenChapters, p.TotalChapters, weightChapters) +
			ratio(p.PromptedChapters, p.TotalChapters, weightPrompts) +
			ratio(p.CompletedScenes, p.TotalScenes, weightVideos) +
			ratio(p.MergedChapters, p.TotalChapters, weightMerge)
		if p.Percent > 99 {
			p.Percent = 99 // only StageCompleted reports 100
		}
	}

	return p
}

func ratio(done, total, weight int) int {
	if total <= 0 {
		return 0
	}
	if done > total {
		done = total
	}
	return done * weight / total
}

func formatDuration(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

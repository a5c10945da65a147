package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"film-forge-server/config"
	"film-forge-server/models"
	"film-forge-server/pkg/logger"
	"film-forge-server/pkg/storage"
	"film-forge-server/pkg/videogen"
)

var ErrVideoNotFound = errors.New("video not found")

// VideoService 独立视频库：与影片流水线共用同一个视频适配器和对象存储
type VideoService struct {
	db      *gorm.DB
	video   videogen.Generator
	store   storage.Store
	enqueue func(videoID uint) error
	cfg     config.PipelineConfig
}

func NewVideoService(db *gorm.DB, video videogen.Generator, store storage.Store, enqueue func(videoID uint) error, cfg config.PipelineConfig) *VideoService {
	return &VideoService{db: db, video: video, store: store, enqueue: enqueue, cfg: cfg}
}

// CreateVideo 创建记录并投递后台生成任务
func (s *VideoService) CreateVideo(userID uint, req *models.VideoGenerateRequest) (*models.GeneratedVideo, error) {
	video := models.GeneratedVideo{
		Prompt:      req.Prompt,
		Model:       req.Model,
		Seconds:     req.Seconds,
		Resolution:  req.Resolution,
		AspectRatio: req.AspectRatio,
		Status:      models.VideoProcessing,
		UserID:      userID,
	}
	if video.Seconds <= 0 {
		video.Seconds = s.cfg.SceneSeconds
	}
	if video.AspectRatio == "" {
		video.AspectRatio = "16:9"
	}

	if err := s.db.Create(&video).Error; err != nil {
		return nil, fmt.Errorf("failed to create video record: %w", err)
	}

	if err := s.enqueue(video.ID); err != nil {
		s.markVideoFailed(&video, err)
		return nil, fmt.Errorf("failed to enqueue video generation: %w", err)
	}

	logger.Infof("Video generation queued: id=%d", video.ID)
	return &video, nil
}

// ProcessVideoTask runs one queued video request to a terminal status. The
// queue worker calls this; errors are absorbed into the record.
func (s *VideoService) ProcessVideoTask(ctx context.Context, videoID uint) error {
	var video models.GeneratedVideo
	if err := s.db.First(&video, videoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVideoNotFound
		}
		return err
	}

	if video.Status == models.VideoCompleted {
		return nil
	}

	submission, err := s.video.Submit(ctx, videogen.Request{
		Prompt:      video.Prompt,
		Model:       video.Model,
		Seconds:     video.Seconds,
		Resolution:  video.Resolution,
		AspectRatio: video.AspectRatio,
	})
	if err != nil {
		s.markVideoFailed(&video, err)
		return nil
	}

	videoURL := submission.VideoURL
	if videoURL == "" {
		if err := s.db.Model(&video).Update("job_id", submission.JobID).Error; err != nil {
			logger.Errorf("Failed to persist job id for video %d: %v", video.ID, err)
		}

		result, err := videogen.AwaitCompletion(ctx, s.video, submission.JobID, videogen.RetryPolicy{
			Interval:    s.cfg.PollInterval,
			MaxAttempts: s.cfg.PollMaxAttempts,
		})
		if err != nil {
			s.markVideoFailed(&video, err)
			return nil
		}
		if result.Failed {
			s.markVideoFailed(&video, fmt.Errorf("video generation failed: %s", result.Message))
			return nil
		}
		videoURL = result.VideoURL
	}

	handle, err := s.store.PutFromURL(ctx, videoURL)
	if err != nil {
		s.markVideoFailed(&video, err)
		return nil
	}

	if err := s.db.Model(&video).Updates(map[string]interface{}{
		"status":       models.VideoCompleted,
		"video_handle": handle,
	}).Error; err != nil {
		return fmt.Errorf("failed to persist completed video %d: %w", video.ID, err)
	}

	logger.Infof("Video %d completed: handle=%s", video.ID, handle)
	return nil
}

// GetVideo 查询单条记录
func (s *VideoService) GetVideo(userID, videoID uint) (*models.GeneratedVideo, error) {
	var video models.GeneratedVideo
	err := s.db.Where("id = ? AND user_id = ?", videoID, userID).First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVideoNotFound
		}
		return nil, err
	}
	return &video, nil
}

// ListVideos 分页列出用户的视频,可按状态过滤
func (s *VideoService) ListVideos(userID uint, req *models.VideoListRequest) ([]models.GeneratedVideo, int64, error) {
	page := req.Page
	limit := req.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := s.db.Model(&models.GeneratedVideo{}).Where("user_id = ?", userID)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var videos []models.GeneratedVideo
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, 0, err
	}

	return videos, total, nil
}

func (s *VideoService) markVideoFailed(video *models.GeneratedVideo, cause error) {
	logger.Errorf("Video %d generation failed: %v", video.ID, cause)
	if err := s.db.Model(video).Updates(map[string]interface{}{
		"status":        models.VideoFailed,
		"error_message": cause.Error(),
	}).Error; err != nil {
		logger.Errorf("Failed to persist failed status for video %d: %v", video.ID, err)
	}
	video.Status = models.VideoFailed
	video.ErrorMessage = cause.Error()
}

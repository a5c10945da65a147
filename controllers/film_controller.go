package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"film-forge-server/models"
	"film-forge-server/pkg/events"
	"film-forge-server/pkg/logger"
	"film-forge-server/services"
)

// EventSubscriber 订阅一部影片的实时生成事件流
type EventSubscriber interface {
	Subscribe(ctx context.Context, filmID uint) <-chan events.Event
}

type FilmController struct {
	filmService  *services.FilmService
	storyService *services.StoryService
	pipeline     *services.PipelineService
	subscriber   EventSubscriber
}

func NewFilmController(filmService *services.FilmService, storyService *services.StoryService, pipeline *services.PipelineService, subscriber EventSubscriber) *FilmController {
	return &FilmController{
		filmService:  filmService,
		storyService: storyService,
		pipeline:     pipeline,
		subscriber:   subscriber,
	}
}

// 创建影片
func (fc *FilmController) CreateFilm(c *gin.Context) {
	var req models.FilmCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	film, err := fc.filmService.CreateFilm(currentUserID(c), &req)
	if err != nil {
		logger.Errorf("Failed to create film: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create film",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Film created successfully",
		"film":    film,
	})
}

// 查询单部影片
func (fc *FilmController) GetFilm(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	film, err := fc.filmService.GetFilm(currentUserID(c), filmID)
	if err != nil {
		respondFilmError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"film": film,
	})
}

// 分页列出影片
func (fc *FilmController) ListFilms(c *gin.Context) {
	var req models.FilmListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	films, total, err := fc.filmService.ListFilms(currentUserID(c), req.Page, req.Limit)
	if err != nil {
		logger.Errorf("Failed to list films: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list films",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"films": films,
		"total": total,
		"page":  req.Page,
		"limit": req.Limit,
	})
}

// 删除影片及其章节
func (fc *FilmController) DeleteFilm(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := fc.filmService.DeleteFilm(currentUserID(c), filmID); err != nil {
		respondFilmError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Film deleted successfully",
	})
}

// 启动生成：HTTP 请求只负责领取影片并投递任务,流水线在后台执行
func (fc *FilmController) StartGeneration(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if _, err := fc.filmService.GetFilm(currentUserID(c), filmID); err != nil {
		respondFilmError(c, err)
		return
	}

	if err := fc.pipeline.StartRun(filmID); err != nil {
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAlreadyCompleted):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrFilmNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			logger.Errorf("Failed to start generation for film %d: %v", filmID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start generation"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Generation started",
		"film_id": filmID,
	})
}

// 查询生成进度
func (fc *FilmController) GetProgress(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	progress, err := fc.filmService.GetProgress(currentUserID(c), filmID)
	if err != nil {
		respondFilmError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"progress": progress,
	})
}

// 列出影片章节
func (fc *FilmController) ListChapters(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	chapters, err := fc.filmService.GetChapters(currentUserID(c), filmID)
	if err != nil {
		respondFilmError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chapters": chapters,
	})
}

// 单独生成故事框架,不推进流水线
func (fc *FilmController) GenerateFramework(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	film, err := fc.filmService.GetFilm(currentUserID(c), filmID)
	if err != nil {
		respondFilmError(c, err)
		return
	}

	framework, err := fc.storyService.GenerateFramework(c.Request.Context(), film)
	if err != nil {
		logger.Errorf("Framework generation failed for film %d: %v", filmID, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Framework generation failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"framework": framework,
	})
}

// 单独生成下一章,用于预览和编辑流程
func (fc *FilmController) GenerateChapter(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	film, err := fc.filmService.GetFilm(currentUserID(c), filmID)
	if err != nil {
		respondFilmError(c, err)
		return
	}

	chapter, err := fc.storyService.GenerateNextChapter(c.Request.Context(), film)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNoFramework):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Generate the story framework first",
		})
		return
	case errors.Is(err, services.ErrAllChaptersWritten):
		c.JSON(http.StatusConflict, gin.H{
			"error": "All chapters are already written",
		})
		return
	default:
		logger.Errorf("Chapter generation failed for film %d: %v", filmID, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Chapter generation failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chapter": chapter,
	})
}

// 实时事件流,SSE
func (fc *FilmController) Events(c *gin.Context) {
	filmID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if _, err := fc.filmService.GetFilm(currentUserID(c), filmID); err != nil {
		respondFilmError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	ch := fc.subscriber.Subscribe(c.Request.Context(), filmID)
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			c.SSEvent(event.Type, string(payload))
			c.Writer.Flush()
		}
	}
}

func currentUserID(c *gin.Context) uint {
	if v, exists := c.Get("user_id"); exists {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid id",
		})
		return 0, false
	}
	return uint(id), true
}

func respondFilmError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrFilmNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Film not found",
		})
		return
	}
	logger.Errorf("Film request failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Internal server error",
	})
}

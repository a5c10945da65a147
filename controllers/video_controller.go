package controllers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"film-forge-server/models"
	"film-forge-server/pkg/logger"
	"film-forge-server/services"
)

// MediaResolver 把对象句柄解析成本地文件路径
type MediaResolver interface {
	FilePath(handle string) (string, error)
}

type VideoController struct {
	videoService *services.VideoService
	media        MediaResolver
}

func NewVideoController(videoService *services.VideoService, media MediaResolver) *VideoController {
	return &VideoController{
		videoService: videoService,
		media:        media,
	}
}

// 提交文生视频请求,后台异步生成
func (vc *VideoController) GenerateVideo(c *gin.Context) {
	var req models.VideoGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	video, err := vc.videoService.CreateVideo(currentUserID(c), &req)
	if err != nil {
		logger.Errorf("Failed to create video: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit video generation",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Video generation submitted",
		"video":   video,
	})
}

// 查询单条视频记录
func (vc *VideoController) GetVideo(c *gin.Context) {
	videoID, ok := pathID(c, "id")
	if !ok {
		return
	}

	video, err := vc.videoService.GetVideo(currentUserID(c), videoID)
	if err != nil {
		if errors.Is(err, services.ErrVideoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Video not found",
			})
			return
		}
		logger.Errorf("Failed to get video %d: %v", videoID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video": video,
	})
}

// 分页列出视频记录
func (vc *VideoController) ListVideos(c *gin.Context) {
	var req models.VideoListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	videos, total, err := vc.videoService.ListVideos(currentUserID(c), &req)
	if err != nil {
		logger.Errorf("Failed to list videos: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list videos",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"total":  total,
		"page":   req.Page,
		"limit":  req.Limit,
	})
}

// 下载媒体对象。handle 是日期分区的相对路径,含斜杠,路由用 *handle 通配
func (vc *VideoController) DownloadVideo(c *gin.Context) {
	handle := c.Param("handle")
	if len(handle) > 0 && handle[0] == '/' {
		handle = handle[1:]
	}
	if handle == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing handle",
		})
		return
	}

	path, err := vc.media.FilePath(handle)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid handle",
		})
		return
	}

	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Object not found",
		})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(path))
	c.File(path)
}

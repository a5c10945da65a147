package models

import (
	"time"

	"gorm.io/gorm"
)

// VideoStatus is the state of an ad-hoc text-to-video request.
type VideoStatus string

const (
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

// GeneratedVideo 独立视频库记录：单次文生视频请求，不属于影片流水线
type GeneratedVideo struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Prompt string `json:"prompt" gorm:"type:text;not null"`

	// Requested parameters
	Model       string `json:"model" gorm:"size:50"`
	Seconds     int    `json:"seconds" gorm:"default:5"`
	Resolution  string `json:"resolution" gorm:"size:20"`
	AspectRatio string `json:"aspect_ratio" gorm:"default:'16:9';size:20"`

	Status       VideoStatus `json:"status" gorm:"default:'processing';size:20"`
	JobID        string      `json:"job_id" gorm:"size:100"`
	VideoHandle  string      `json:"video_handle" gorm:"size:500"`
	ErrorMessage string      `json:"error_message" gorm:"type:text"`

	UserID    uint           `json:"user_id" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

type VideoGenerateRequest struct {
	Prompt      string `json:"prompt" binding:"required,max=2000"`
	Model       string `json:"model" binding:"omitempty,max=50"`
	Seconds     int    `json:"seconds" binding:"omitempty,min=1,max=30"`
	Resolution  string `json:"resolution" binding:"omitempty,max=20"`
	AspectRatio string `json:"aspect_ratio" binding:"omitempty,oneof=16:9 9:16 1:1"`
}

type VideoListRequest struct {
	Status string `json:"status" form:"status"`
	Page   int    `json:"page" form:"page,default=1"`
	Limit  int    `json:"limit" form:"limit,default=20"`
}

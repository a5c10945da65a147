package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// ChapterStatus advances monotonically; any frame failure forces the chapter
// to ChapterFailed without blocking sibling chapters.
type ChapterStatus string

const (
	ChapterPending           ChapterStatus = "pending"
	ChapterGeneratingPrompts ChapterStatus = "generating_prompts"
	ChapterGeneratingVideos  ChapterStatus = "generating_videos"
	ChapterMerging           ChapterStatus = "merging"
	ChapterCompleted         ChapterStatus = "completed"
	ChapterFailed            ChapterStatus = "failed"
)

var chapterStatusOrder = map[ChapterStatus]int{
	ChapterPending:           0,
	ChapterGeneratingPrompts: 1,
	ChapterGeneratingVideos:  2,
	ChapterMerging:           3,
	ChapterCompleted:         4,
}

// CanTransition reports whether moving from s to next is legal. Completed
// is final; a failed chapter may re-enter any working status so a later run
// can reattempt it.
func (s ChapterStatus) CanTransition(next ChapterStatus) bool {
	if s == ChapterCompleted {
		return false
	}
	if s == ChapterFailed {
		switch next {
		case ChapterGeneratingPrompts, ChapterGeneratingVideos, ChapterMerging:
			return true
		}
		return false
	}
	if next == ChapterFailed {
		return true
	}
	from, ok := chapterStatusOrder[s]
	if !ok {
		return false
	}
	to, ok := chapterStatusOrder[next]
	if !ok {
		return false
	}
	return to == from || to == from+1
}

// FrameStatus is the state of one scene work item.
type FrameStatus string

const (
	FramePending    FrameStatus = "pending"
	FrameProcessing FrameStatus = "processing"
	FrameCompleted  FrameStatus = "completed"
	FrameFailed     FrameStatus = "failed"
)

// VideoFrame is one scene clip of a chapter. FrameNumber is 1-based and
// matches the position of the scene prompt it was split from.
type VideoFrame struct {
	FrameNumber int         `json:"frame_number"`
	Prompt      string      `json:"prompt"`
	Status      FrameStatus `json:"status"`
	JobID       string      `json:"job_id,omitempty"`
	VideoHandle string      `json:"video_handle,omitempty"`
}

// Usable reports whether the frame can participate in a merge.
func (f VideoFrame) Usable() bool {
	return f.Status == FrameCompleted && f.VideoHandle != ""
}

// Chapter 章节：影片的一个叙事片段，按 chapter_number 连续排列
type Chapter struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	FilmID        uint   `json:"film_id" gorm:"not null;index"`
	ChapterNumber int    `json:"chapter_number" gorm:"not null"`
	ChapterType   string `json:"chapter_type" gorm:"size:50"` // structured mode only, one of 18 beat tags
	Title         string `json:"title" gorm:"size:200"`

	Content     string `json:"content" gorm:"type:text"`
	Summary     string `json:"summary" gorm:"type:text"`
	VideoPrompt string `json:"video_prompt" gorm:"type:text"`

	// Symbolic artifact threaded across structured-mode chapters
	Artifact Artifact `json:"artifact" gorm:"type:text"`

	ScenePrompts StringArray    `json:"scene_prompts" gorm:"type:text"`
	VideoFrames  VideoFrameList `json:"video_frames" gorm:"type:text"`

	Status            ChapterStatus `json:"status" gorm:"default:'pending';size:30"`
	MergedVideoHandle string        `json:"merged_video_handle" gorm:"size:500"`
	EstimatedDuration float64       `json:"estimated_duration"`
	ErrorMessage      string        `json:"error_message" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Film Film `json:"film,omitempty" gorm:"foreignKey:FilmID"`
}

// Artifact is the recurring symbolic object of structured mode. Chapter 1
// invents it; every later chapter references or evolves it.
type Artifact struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Significance string `json:"significance"`
}

// IsZero reports whether no artifact has been set.
func (a Artifact) IsZero() bool {
	return a.Name == "" && a.Description == "" && a.Significance == ""
}

func (a Artifact) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *Artifact) Scan(value interface{}) error {
	if value == nil {
		*a = Artifact{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	}
	return nil
}

// Custom types stored as JSON text columns

type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}

// VideoFrameList is the chapter's embedded ordered scene collection. Frames
// are not independent rows; only the pipeline mutates them.
type VideoFrameList []VideoFrame

func (l VideoFrameList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *VideoFrameList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return nil
}

type CastList []CastMember

func (c CastList) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *CastList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	}
	return nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// GenerationMode selects how chapters are written.
type GenerationMode string

const (
	ModeFreeform     GenerationMode = "freeform"      // independent chapters with light continuity
	ModeStructured18 GenerationMode = "structured_18" // fixed 18-beat Hollywood screenplay
)

// GenerationStage is the film-level pipeline phase. Stages only move forward
// through stageOrder, or to StageFailed from any non-terminal stage.
type GenerationStage string

const (
	StageIdle               GenerationStage = "idle"
	StageGeneratingChapters GenerationStage = "generating_chapters"
	StageGeneratingPrompts  GenerationStage = "generating_prompts"
	StageGeneratingVideos   GenerationStage = "generating_videos"
	StageMergingChapters    GenerationStage = "merging_chapters"
	StageMergingFinal       GenerationStage = "merging_final"
	StageCompleted          GenerationStage = "completed"
	StageFailed             GenerationStage = "failed"
)

var stageOrder = map[GenerationStage]int{
	StageIdle:               0,
	StageGeneratingChapters: 1,
	StageGeneratingPrompts:  2,
	StageGeneratingVideos:   3,
	StageMergingChapters:    4,
	StageMergingFinal:       5,
	StageCompleted:          6,
}

// IsTerminal reports whether the stage is a final state.
func (s GenerationStage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanTransition reports whether moving from s to next is legal. Re-entering
// the current stage is allowed so a resumed run can pick up where it stopped.
// StageFailed may restart back into StageGeneratingChapters.
func (s GenerationStage) CanTransition(next GenerationStage) bool {
	if s == StageCompleted {
		return false
	}
	if s == StageFailed {
		return next == StageGeneratingChapters
	}
	if next == StageFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to == from || to == from+1
}

// Film 一部影片：一个标题到一条成片的完整生成单元
type Film struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	Title string `json:"title" gorm:"not null;size:200"`

	// Generation configuration
	Mode            GenerationMode `json:"mode" gorm:"default:'freeform';size:20"`
	ChapterCount    int            `json:"chapter_count" gorm:"default:3"`
	WordsPerChapter int            `json:"words_per_chapter" gorm:"default:500"`
	VideoModel      string         `json:"video_model" gorm:"size:50"`
	FrameSize       string         `json:"frame_size" gorm:"default:'16:9';size:20"`
	NarratorVoice   string         `json:"narrator_voice" gorm:"size:50"` // accepted but not yet used by the pipeline

	// Pipeline state
	GenerationStage  GenerationStage `json:"generation_stage" gorm:"default:'idle';size:30"`
	FinalVideoHandle string          `json:"final_video_handle" gorm:"size:500"`
	TotalDuration    float64         `json:"total_duration"`
	ErrorMessage     string          `json:"error_message" gorm:"type:text"`

	UserID    uint           `json:"user_id" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	User      User            `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Framework *StoryFramework `json:"framework,omitempty" gorm:"foreignKey:FilmID;constraint:OnDelete:CASCADE"`
	Chapters  []Chapter       `json:"chapters,omitempty" gorm:"foreignKey:FilmID;constraint:OnDelete:CASCADE"`
}

// StoryFramework 故事框架：一对一挂在影片上，生成后不再修改
type StoryFramework struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	FilmID  uint   `json:"film_id" gorm:"not null;uniqueIndex"`
	Premise string `json:"premise" gorm:"type:text"`
	Hook    string `json:"hook" gorm:"type:text"`

	Genres StringArray `json:"genres" gorm:"type:text"`
	Tone   string      `json:"tone" gorm:"size:100"`

	// Setting
	Location   string `json:"location" gorm:"size:200"`
	TimePeriod string `json:"time_period" gorm:"size:100"`
	Weather    string `json:"weather" gorm:"size:100"`
	Atmosphere string `json:"atmosphere" gorm:"size:200"`

	Cast CastList `json:"cast" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CastMember is one character of the story framework.
type CastMember struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Role        string `json:"role"`
	Description string `json:"description"`
	VisualTag   string `json:"visual_tag"`
}

type FilmCreateRequest struct {
	Title           string `json:"title" binding:"required,max=200"`
	Mode            string `json:"mode" binding:"omitempty,oneof=freeform structured_18"`
	ChapterCount    int    `json:"chapter_count" binding:"omitempty,min=1,max=30"`
	WordsPerChapter int    `json:"words_per_chapter" binding:"omitempty,min=50,max=3000"`
	VideoModel      string `json:"video_model" binding:"omitempty,max=50"`
	FrameSize       string `json:"frame_size" binding:"omitempty,oneof=16:9 9:16 1:1"`
	NarratorVoice   string `json:"narrator_voice" binding:"omitempty,max=50"`
}

type FilmListRequest struct {
	Page  int `json:"page" form:"page,default=1"`
	Limit int `json:"limit" form:"limit,default=20"`
}

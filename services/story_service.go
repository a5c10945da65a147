package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"film-forge-server/models"
	"film-forge-server/pkg/llm"
	"film-forge-server/pkg/logger"
)

const frameworkSystemPrompt = `You are a film story architect. Given a film title you design the narrative framework the whole production hangs on.

Respond with ONLY one JSON object, no preamble, no markdown:
{
  "premise": "2-3 sentence story premise",
  "hook": "one short teaser line that sells the film",
  "genres": ["genre", ...],
  "tone": "overall tone",
  "setting": {
    "location": "...",
    "time_period": "...",
    "weather": "...",
    "atmosphere": "..."
  },
  "cast": [
    {"name": "...", "age": 34, "role": "protagonist|antagonist|ally|...", "description": "...", "visual_tag": "short visual reference tag"}
  ]
}`

const chapterSystemPrompt = `You are a screenwriter producing one chapter of a film's narrative at a time.

Respond with ONLY one JSON object, no preamble, no markdown:
{
  "title": "chapter title",
  "content": "the full narrative text of the chapter",
  "summary": "3-4 sentence summary for continuity",
  "video_prompt": "one dense cinematic text-to-video prompt capturing the chapter visually",
  "artifact": {"name": "...", "description": "...", "significance": "..."}
}
Omit "artifact" unless the instructions ask for one.`

const sceneSplitSystemPrompt = `You split a chapter of narrative text into independent visual prompts for short AI video clips.

Each prompt must stand alone: restate characters and setting, describe one continuous visual moment, and carry the chapter's tone. Cover the chapter in order.

Respond with ONLY one JSON array of strings, no preamble, no markdown.`

var (
	// ErrNoFramework is returned when chapter generation is requested before
	// a story framework exists.
	ErrNoFramework = errors.New("film has no story framework")
	// ErrAllChaptersWritten is returned when every planned chapter already
	// has content.
	ErrAllChaptersWritten = errors.New("all chapters already written")
)

// StoryService generates frameworks, chapters and scene prompts through the
// text adapter. It owns the two writing modes and the continuity threading
// between structured-mode chapters.
type StoryService struct {
	db     *gorm.DB
	texter llm.Generator
}

func NewStoryService(db *gorm.DB, texter llm.Generator) *StoryService {
	return &StoryService{db: db, texter: texter}
}

type frameworkPayload struct {
	Premise string   `json:"premise"`
	Hook    string   `json:"hook"`
	Genres  []string `json:"genres"`
	Tone    string   `json:"tone"`
	Setting struct {
		Location   string `json:"location"`
		TimePeriod string `json:"time_period"`
		Weather    string `json:"weather"`
		Atmosphere string `json:"atmosphere"`
	} `json:"setting"`
	Cast []models.CastMember `json:"cast"`
}

type chapterPayload struct {
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Summary     string          `json:"summary"`
	VideoPrompt string          `json:"video_prompt"`
	Artifact    models.Artifact `json:"artifact"`
}

// GenerateFramework requests and persists the one-to-one story framework.
// An existing framework is replaced, never patched.
func (s *StoryService) GenerateFramework(ctx context.Context, film *models.Film) (*models.StoryFramework, error) {
	userPrompt := fmt.Sprintf("Film title: %q\nGeneration mode: %s\nPlanned chapters: %d\n\nDesign the story framework.",
		film.Title, film.Mode, film.ChapterCount)

	output, err := s.texter.Generate(ctx, frameworkSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var payload frameworkPayload
	if err := llm.ExtractObject(output, &payload); err != nil {
		return nil, err
	}

	framework := &models.StoryFramework{
		FilmID:     film.ID,
		Premise:    payload.Premise,
		Hook:       payload.Hook,
		Genres:     payload.Genres,
		Tone:       payload.Tone,
		Location:   payload.Setting.Location,
		TimePeriod: payload.Setting.TimePeriod,
		Weather:    payload.Setting.Weather,
		Atmosphere: payload.Setting.Atmosphere,
		Cast:       payload.Cast,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("film_id = ?", film.ID).Delete(&models.StoryFramework{}).Error; err != nil {
			return err
		}
		return tx.Create(framework).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist framework: %w", err)
	}

	logger.Infof("Framework generated for film %d: %s", film.ID, payload.Hook)
	return framework, nil
}

// GenerateNextChapter writes the first missing chapter of the film and
// persists it. It serves the preview/editing flow outside a pipeline run;
// continuity context is threaded the same way the orchestrator threads it.
func (s *StoryService) GenerateNextChapter(ctx context.Context, film *models.Film) (*models.Chapter, error) {
	var framework models.StoryFramework
	if err := s.db.Where("film_id = ?", film.ID).First(&framework).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoFramework
		}
		return nil, err
	}

	var existing []models.Chapter
	if err := s.db.Where("film_id = ?", film.ID).Order("chapter_number").Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load chapters: %w", err)
	}

	byNumber := make(map[int]models.Chapter, len(existing))
	for _, ch := range existing {
		byNumber[ch.ChapterNumber] = ch
	}

	total := chapterTarget(film)

	var prior []models.Chapter
	var artifact models.Artifact
	var hookText string
	next := 0

	for n := 1; n <= total; n++ {
		ch, ok := byNumber[n]
		if !ok || ch.Content == "" {
			next = n
			break
		}
		prior = append(prior, ch)
		if n == models.HookChapterNumber {
			hookText = ch.Content
		}
		if !ch.Artifact.IsZero() {
			artifact = ch.Artifact
		}
	}
	if next == 0 {
		return nil, ErrAllChaptersWritten
	}

	chapter, err := s.GenerateChapter(ctx, ChapterRequest{
		Film:          film,
		Framework:     &framework,
		ChapterNumber: next,
		TotalChapters: total,
		Prior:         prior,
		HookText:      hookText,
		Artifact:      artifact,
	})
	if err != nil {
		return nil, err
	}

	if prev, ok := byNumber[next]; ok {
		chapter.ID = prev.ID
		chapter.CreatedAt = prev.CreatedAt
	}
	if err := s.db.Save(chapter).Error; err != nil {
		return nil, fmt.Errorf("failed to persist chapter %d: %w", next, err)
	}
	return chapter, nil
}

// ChapterRequest carries everything one chapter generation call needs.
type ChapterRequest struct {
	Film          *models.Film
	Framework     *models.StoryFramework
	ChapterNumber int
	TotalChapters int
	// Prior chapters in order, for continuity context.
	Prior []models.Chapter
	// HookText is chapter 1's full text, passed verbatim into the climax
	// chapter of structured mode.
	HookText string
	// Artifact is the most recent artifact state in the chain.
	Artifact models.Artifact
}

// GenerateChapter requests one chapter from the text adapter and returns the
// parsed result. The caller persists it; content failures surface as llm
// errors for per-unit handling.
func (s *StoryService) GenerateChapter(ctx context.Context, req ChapterRequest) (*models.Chapter, error) {
	chapter := &models.Chapter{
		FilmID:        req.Film.ID,
		ChapterNumber: req.ChapterNumber,
		Status:        models.ChapterPending,
	}

	var instruction string
	var targetWords int

	if req.Film.Mode == models.ModeStructured18 {
		beat, ok := models.BeatForChapter(req.ChapterNumber)
		if !ok {
			return nil, fmt.Errorf("chapter number %d outside structured range", req.ChapterNumber)
		}
		chapter.ChapterType = beat.Type
		instruction = beat.Instruction
		targetWords = beat.TargetWords
	} else {
		instruction = models.FreeformInstruction(req.ChapterNumber, req.TotalChapters)
		targetWords = req.Film.WordsPerChapter
	}

	userPrompt := s.buildChapterPrompt(req, instruction, targetWords)

	output, err := s.texter.Generate(ctx, chapterSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var payload chapterPayload
	if err := llm.ExtractObject(output, &payload); err != nil {
		return nil, err
	}

	chapter.Title = payload.Title
	chapter.Content = payload.Content
	chapter.Summary = payload.Summary
	chapter.VideoPrompt = payload.VideoPrompt
	chapter.Artifact = payload.Artifact

	return chapter, nil
}

func (s *StoryService) buildChapterPrompt(req ChapterRequest, instruction string, targetWords int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Film: %q\n", req.Film.Title)
	if fw := req.Framework; fw != nil {
		fmt.Fprintf(&b, "Premise: %s\nHook line: %s\nGenres: %s\nTone: %s\nSetting: %s, %s, %s, %s\n",
			fw.Premise, fw.Hook, strings.Join(fw.Genres, ", "), fw.Tone,
			fw.Location, fw.TimePeriod, fw.Weather, fw.Atmosphere)
		if len(fw.Cast) > 0 {
			b.WriteString("Cast:\n")
			for _, c := range fw.Cast {
				fmt.Fprintf(&b, "- %s (%d, %s): %s\n", c.Name, c.Age, c.Role, c.Description)
			}
		}
	}

	fmt.Fprintf(&b, "\nYou are writing chapter %d of %d.\n", req.ChapterNumber, req.TotalChapters)

	if len(req.Prior) > 0 {
		b.WriteString("\nStory so far:\n")
		for _, prior := range req.Prior {
			summary := prior.Summary
			if summary == "" {
				summary = excerpt(prior.Content, 60)
			}
			fmt.Fprintf(&b, "- Chapter %d %q: %s\n", prior.ChapterNumber, prior.Title, summary)
		}
	}

	if req.Film.Mode == models.ModeStructured18 {
		if req.ChapterNumber == models.HookChapterNumber {
			b.WriteString("\nInvent the symbolic artifact here and include it in the \"artifact\" field.\n")
		} else if !req.Artifact.IsZero() {
			fmt.Fprintf(&b, "\nThe story's symbolic artifact so far: %s - %s (%s). Reference or evolve it; do not invent a new one. Return its current state in the \"artifact\" field.\n",
				req.Artifact.Name, req.Artifact.Description, req.Artifact.Significance)
		}

		if req.ChapterNumber == models.ClimaxChapterNumber && req.HookText != "" {
			fmt.Fprintf(&b, "\nThe opening hook chapter, to be recreated in this climax, reads in full:\n---\n%s\n---\n", req.HookText)
		}
	}

	fmt.Fprintf(&b, "\nInstructions for this chapter: %s\n", instruction)
	fmt.Fprintf(&b, "Target length: about %d words.\n", targetWords)

	return b.String()
}

// SplitScenes decomposes a chapter into exactly count independent visual
// prompts. A response with no JSON array is a ParseError; a short array is
// topped up with the chapter's own video prompt so the count contract holds.
func (s *StoryService) SplitScenes(ctx context.Context, chapter *models.Chapter, count int) ([]string, error) {
	userPrompt := fmt.Sprintf("Chapter %q:\n\n%s\n\nSplit this chapter into exactly %d visual prompts.",
		chapter.Title, chapter.Content, count)

	output, err := s.texter.Generate(ctx, sceneSplitSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var prompts []string
	if err := llm.ExtractArray(output, &prompts); err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, &llm.ParseError{Want: "array", Output: output}
	}

	if len(prompts) > count {
		prompts = prompts[:count]
	}
	for len(prompts) < count {
		prompts = append(prompts, chapter.VideoPrompt)
	}

	return prompts, nil
}

func excerpt(text string, words int) string {
	fields := strings.Fields(text)
	if len(fields) <= words {
		return text
	}
	return strings.Join(fields[:words], " ") + "..."
}

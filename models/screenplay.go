package models

// ScreenplayBeat is one fixed position of the 18-beat structured mode.
type ScreenplayBeat struct {
	Type        string // stable tag stored on Chapter.ChapterType
	Title       string
	TargetWords int
	Phase       string // act1, act2a, act2b, act3
	Instruction string
}

const (
	StructuredChapterCount = 18
	HookChapterNumber      = 1
	ClimaxChapterNumber    = 16
)

// screenplayBeats maps chapter numbers 1..18 to their fixed beat. Position 1
// invents the symbolic artifact; position 16 must textually recreate the
// opening hook scene with full narrative context.
var screenplayBeats = [StructuredChapterCount]ScreenplayBeat{
	{
		Type: "hook", Title: "The Hook", TargetWords: 600, Phase: "act1",
		Instruction: "Open mid-action on the single most arresting image of the story. Introduce a symbolic artifact - a physical object the audience will see again and again. Describe it precisely: what it is, what it looks like, why it matters. End the chapter on an unanswered question.",
	},
	{
		Type: "ordinary_world", Title: "Ordinary World", TargetWords: 800, Phase: "act1",
		Instruction: "Show the protagonist's everyday life before the story intrudes on it. Establish routine, relationships and one unmet longing. Let the artifact appear in passing, unremarked.",
	},
	{
		Type: "inciting_incident", Title: "Inciting Incident", TargetWords: 800, Phase: "act1",
		Instruction: "Disrupt the ordinary world with a single irreversible event. The protagonist does not choose it; it happens to them. Tie the event to the artifact in some small, concrete way.",
	},
	{
		Type: "debate", Title: "The Debate", TargetWords: 700, Phase: "act1",
		Instruction: "The protagonist resists the call. Dramatize the argument for staying put through dialogue or an internal monologue, then plant the seed of why refusal is impossible.",
	},
	{
		Type: "break_into_two", Title: "Crossing the Threshold", TargetWords: 700, Phase: "act1",
		Instruction: "The protagonist makes the choice that cannot be unmade and steps into the new world. Mark the crossing with a sensory change - light, weather, sound. The artifact travels with them.",
	},
	{
		Type: "b_story", Title: "The B Story", TargetWords: 800, Phase: "act2a",
		Instruction: "Introduce the relationship that will carry the story's theme: an ally, a mentor or a love interest. Their first exchange with the protagonist should quietly state what the story is really about.",
	},
	{
		Type: "fun_and_games", Title: "Fun and Games", TargetWords: 1000, Phase: "act2a",
		Instruction: "Deliver the promise of the premise. Let the protagonist explore the new world, win small victories, make mistakes that entertain rather than wound. Keep the artifact visible.",
	},
	{
		Type: "midpoint", Title: "The Midpoint Twist", TargetWords: 1500, Phase: "act2a",
		Instruction: "Turn the story on its head with a revelation that recasts everything that came before. A false victory becomes a real threat, or a false defeat hides an opening. The artifact's true significance shifts here - evolve its meaning explicitly.",
	},
	{
		Type: "bad_guys_close_in", Title: "Bad Guys Close In", TargetWords: 900, Phase: "act2b",
		Instruction: "External pressure tightens while internal doubts crack the team apart. Show the antagonist's competence. Every scene should cost the protagonist something.",
	},
	{
		Type: "raising_stakes", Title: "Raising the Stakes", TargetWords: 900, Phase: "act2b",
		Instruction: "Make the price of failure personal and concrete. Someone or something the protagonist loves is now exposed. Reference the artifact as a reminder of what set this in motion.",
	},
	{
		Type: "all_is_lost", Title: "All Is Lost", TargetWords: 800, Phase: "act2b",
		Instruction: "Take everything away. The plan fails, the ally falls or leaves, and a whiff of death - literal or symbolic - hangs over the chapter. The artifact is lost, broken or taken.",
	},
	{
		Type: "dark_night", Title: "Dark Night of the Soul", TargetWords: 700, Phase: "act2b",
		Instruction: "The protagonist sits in the wreckage. No action, only reckoning. Let them articulate the lesson they have refused to learn since chapter one.",
	},
	{
		Type: "break_into_three", Title: "Break Into Three", TargetWords: 700, Phase: "act3",
		Instruction: "The B story hands the protagonist the missing piece. Fuse the external goal and the internal lesson into one plan. Recovering or repairing the artifact is part of that plan.",
	},
	{
		Type: "gathering_forces", Title: "Gathering Forces", TargetWords: 800, Phase: "act3",
		Instruction: "Assemble allies, tools and resolve. Quick, rhythmic scenes. Each ally states in their own words why they are coming along.",
	},
	{
		Type: "storming_castle", Title: "Storming the Castle", TargetWords: 1000, Phase: "act3",
		Instruction: "Execute the plan against hard resistance. Let it go wrong in a way the midpoint twist foreshadowed, forcing improvisation.",
	},
	{
		Type: "climax", Title: "The Climax", TargetWords: 1200, Phase: "act3",
		Instruction: "The decisive confrontation. Recreate the opening hook scene beat for beat - same imagery, same artifact, same unanswered question - but now the audience understands everything it is seeing. Answer the question the hook asked.",
	},
	{
		Type: "resolution", Title: "Resolution", TargetWords: 700, Phase: "act3",
		Instruction: "Settle the dust. Show the cost of victory and what the surviving characters do with it. Resolve the artifact's story: where it rests now and what it means.",
	},
	{
		Type: "final_image", Title: "Final Image", TargetWords: 600, Phase: "act3",
		Instruction: "Close on a single image that mirrors and inverts the opening. The ordinary world, changed. Short, visual, quiet.",
	},
}

// BeatForChapter returns the fixed beat for a structured-mode chapter number.
// The mapping is a pure function of the number and stable across runs.
func BeatForChapter(chapterNumber int) (ScreenplayBeat, bool) {
	if chapterNumber < 1 || chapterNumber > StructuredChapterCount {
		return ScreenplayBeat{}, false
	}
	return screenplayBeats[chapterNumber-1], true
}

// FreeformPhase labels a chapter's relative position for freeform mode.
func FreeformPhase(chapterNumber, totalChapters int) string {
	if totalChapters <= 1 || chapterNumber <= 1 {
		return "opening"
	}
	if chapterNumber >= totalChapters {
		return "final"
	}
	ratio := float64(chapterNumber-1) / float64(totalChapters-1)
	switch {
	case ratio < 0.34:
		return "early"
	case ratio < 0.67:
		return "middle"
	default:
		return "late"
	}
}

// freeformInstructions vary by relative position instead of a fixed table.
var freeformInstructions = map[string]string{
	"opening": "Open the story. Establish protagonist, place and tone, and end on a question that pulls the reader forward.",
	"early":   "Build the world and deepen the characters introduced so far. Complicate the protagonist's goal.",
	"middle":  "Escalate. Raise the stakes established earlier and turn at least one assumption on its head.",
	"late":    "Drive toward the ending. Tighten the net, pay off earlier setups, accelerate the pace.",
	"final":   "Bring the story to a close. Resolve the central question and leave a final image that lingers.",
}

// FreeformInstruction returns the writing instruction for a freeform chapter.
func FreeformInstruction(chapterNumber, totalChapters int) string {
	return freeformInstructions[FreeformPhase(chapterNumber, totalChapters)]
}

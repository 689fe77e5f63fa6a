package coach

import "context"

// TipCategory classifies a coaching tip for the overlay.
type TipCategory string

const (
	CategoryDelivery   TipCategory = "delivery"
	CategoryContent    TipCategory = "content"
	CategoryStructure  TipCategory = "structure"
	CategoryEngagement TipCategory = "engagement"
)

// TipPriority orders tips for display.
type TipPriority string

const (
	PriorityHigh   TipPriority = "high"
	PriorityMedium TipPriority = "medium"
	PriorityLow    TipPriority = "low"
)

// CoachingTip is a short, categorized feedback item from the analysis
// service, filtered through the sanitizer before display.
type CoachingTip struct {
	ID       string      `json:"id"`
	Text     string      `json:"text"`
	Category TipCategory `json:"category"`
	Priority TipPriority `json:"priority"`
}

// SignalLevel is a coarse per-cycle rating.
type SignalLevel string

const (
	LevelHigh    SignalLevel = "High"
	LevelMedium  SignalLevel = "Medium"
	LevelLow     SignalLevel = "Low"
	LevelUnclear SignalLevel = "Unclear"
)

// Signal is one labeled rating (Confidence, Energy, Clarity, Pace,
// Persuasion). The full set is replaced on every accepted result.
type Signal struct {
	Label string      `json:"label"`
	Value SignalLevel `json:"value"`
}

// AnalysisResult is the analysis service's response for one audio segment.
// Transcript is the full running transcript as heard by the service, not an
// increment. Results may resolve in any order relative to dispatch order
// and are never mutated after creation.
type AnalysisResult struct {
	Transcript string
	Tips       []CoachingTip
	Signals    []Signal
	CoachNote  string
}

// Analyzer is the single external capability the pipeline consumes. Calls
// may take arbitrarily long and complete out of order; the caller sends
// whatever prior context it needs explicitly.
type Analyzer interface {
	Analyze(ctx context.Context, audio []byte, priorTranscript string) (*AnalysisResult, error)
}

// PitchData is the display view derived from the latest accepted result.
type PitchData struct {
	Tips      []CoachingTip `json:"tips"`
	Signals   []Signal      `json:"signals"`
	CoachNote string        `json:"coachNote"`
}

// Snapshot is the externally observable session state. Copied out under
// the session lock; safe to serialize directly.
type Snapshot struct {
	PitchData   *PitchData    `json:"pitchData"`
	IsAnalyzing bool          `json:"isAnalyzing"`
	CycleCount  int           `json:"cycleCount"`
	Error       string        `json:"error,omitempty"`
	TipHistory  []CoachingTip `json:"tipHistory"`
	PaceScore   float64       `json:"paceScore"`
	Transcript  string        `json:"transcript"`
}

// Package runner implements the Semantic-Runner: resumable, checkpointed
// exploration of one project's fragment space, one task per invocation.
package runner

import (
	"time"

	"github.com/urdimbre/urdimbre-go/internal/config"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// TaskStatus is the runner task state machine. Cancellation is cooperative
// and lands in StatusCancelled between steps.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSaturated TaskStatus = "saturated"
	StatusCompleted TaskStatus = "completed"
	StatusError     TaskStatus = "error"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the task will make no further progress.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusSaturated, StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Seed strategies.
const (
	StrategyBestScore = "best-score"
	StrategyFirst     = "first"
)

// Inputs are the per-task knobs; zero values fall back to the configured
// runner defaults.
type Inputs struct {
	ProjectID           string   `json:"project"`
	SeedFragmentID      string   `json:"seed_fragment_id,omitempty"`
	Archivo             string   `json:"archivo,omitempty"`
	StepsPerInterview   int      `json:"steps_per_interview"`
	TopK                int      `json:"top_k"`
	Strategy            string   `json:"strategy"`
	InterviewOrder      string   `json:"interview_order,omitempty"`
	MaxInterviews       int      `json:"max_interviews,omitempty"`
	IncludeCoded        bool     `json:"include_coded"`
	SubmitCandidates    bool     `json:"submit_candidates"`
	CandidatesPerStep   int      `json:"candidates_per_step"`
	SaveMemos           bool     `json:"save_memos"`
	LLMSuggest          bool     `json:"llm_suggest"`
	LLMModel            string   `json:"llm_model,omitempty"`
	MinNewUniquePerStep int      `json:"min_new_unique_per_step"`
	SaturationPatience  int      `json:"saturation_patience"`
	CodeRepeatPatience  int      `json:"code_repeat_patience"`
	FocusCodes          []string `json:"focus_codes,omitempty"`
}

// ApplyDefaults fills zero-valued knobs from configuration.
func (in *Inputs) ApplyDefaults(cfg config.RunnerConfig) {
	if in.StepsPerInterview <= 0 {
		in.StepsPerInterview = cfg.StepsPerInterview
	}
	if in.TopK <= 0 {
		in.TopK = cfg.TopK
	}
	if in.CandidatesPerStep <= 0 {
		in.CandidatesPerStep = cfg.CandidatesPerStep
	}
	if in.MinNewUniquePerStep <= 0 {
		in.MinNewUniquePerStep = cfg.MinNewUniquePerStep
	}
	if in.SaturationPatience <= 0 {
		in.SaturationPatience = cfg.SaturationPatience
	}
	if in.CodeRepeatPatience <= 0 {
		in.CodeRepeatPatience = cfg.CodeRepeatPatience
	}
	if in.Strategy == "" {
		in.Strategy = StrategyBestScore
	}
}

// Validate rejects malformed inputs before a task is created.
func (in *Inputs) Validate() error {
	if in.ProjectID == "" {
		return qerr.TenantRequired("project_id")
	}
	switch in.Strategy {
	case StrategyBestScore, StrategyFirst:
	default:
		return qerr.Validationf("unknown seed strategy %q", in.Strategy)
	}
	return nil
}

// Counters are the bounded observable quantities emitted in status.
type Counters struct {
	CurrentStep         int    `json:"current_step"`
	TotalSteps          int    `json:"total_steps"`
	VisitedSeeds        int    `json:"visited_seeds"`
	UniqueSuggestions   int    `json:"unique_suggestions"`
	MemosSaved          int    `json:"memos_saved"`
	CandidatesSubmitted int    `json:"candidates_submitted"`
	LLMCalls            int    `json:"llm_calls"`
	LLMFailures         int    `json:"llm_failures"`
	QdrantFailures      int    `json:"qdrant_failures"`
	QdrantRetries       int    `json:"qdrant_retries"`
	Saturated           bool   `json:"saturated"`
	LastSuggestedCode   string `json:"last_suggested_code,omitempty"`
	Message             string `json:"message,omitempty"`
}

// Cursor is the resumable position inside the interview walk.
type Cursor struct {
	InterviewIndex           int    `json:"interview_index"`
	StepInInterviewCompleted int    `json:"step_in_interview_completed"`
	NextSeed                 string `json:"next_seed,omitempty"`
	GlobalStepCompleted      int    `json:"global_step_completed"`
}

// StepError records one failed or skipped step without terminating the run.
type StepError struct {
	Archivo string `json:"archivo"`
	Step    int    `json:"step"`
	Error   string `json:"error"`
	Skipped bool   `json:"skipped"`
}

// Checkpoint is the full resumable task state, serialised after every step.
type Checkpoint struct {
	TaskID      string `json:"task_id"`
	ResumedFrom string `json:"resumed_from,omitempty"`
	OwnerUser   string `json:"owner_user,omitempty"`
	OwnerOrg    string `json:"owner_org,omitempty"`

	Inputs   Inputs     `json:"inputs"`
	Status   TaskStatus `json:"status"`
	Counters Counters   `json:"counters"`
	Cursor   Cursor     `json:"cursor"`

	// Interviews is the resolved ordering snapshot; resume replays it
	// rather than re-resolving, so the cursor stays meaningful.
	Interviews []string `json:"interviews"`

	// VisitedSeeds maps archivo → fragment ids already used as seeds.
	VisitedSeeds map[string][]string `json:"visited_seeds"`
	// GlobalUnique maps fragment id → best score seen across the task.
	GlobalUnique map[string]float64 `json:"global_unique"`
	KnownCodes   []string           `json:"known_codes,omitempty"`

	NoGrowthStreak   int `json:"no_growth_streak"`
	RepeatCodeStreak int `json:"repeat_code_streak"`

	PendingBefore int         `json:"pending_before"`
	PendingAfter  int         `json:"pending_after,omitempty"`
	Errors        []StepError `json:"errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// visited reports whether a fragment has been used as a seed in an interview.
func (cp *Checkpoint) visited(archivo, fragmentID string) bool {
	for _, id := range cp.VisitedSeeds[archivo] {
		if id == fragmentID {
			return true
		}
	}
	return false
}

func (cp *Checkpoint) markVisited(archivo, fragmentID string) {
	if cp.VisitedSeeds == nil {
		cp.VisitedSeeds = map[string][]string{}
	}
	cp.VisitedSeeds[archivo] = append(cp.VisitedSeeds[archivo], fragmentID)
	cp.Counters.VisitedSeeds++
}

// knowsCode reports whether the task already produced a code name.
func (cp *Checkpoint) knowsCode(code string) bool {
	for _, c := range cp.KnownCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Report is the compact post-mortem written after the interview loop.
type Report struct {
	TaskID         string      `json:"task_id"`
	Status         TaskStatus  `json:"status"`
	StepsCompleted int         `json:"steps_completed"`
	Saturated      bool        `json:"saturated"`
	Counters       Counters    `json:"counters"`
	PendingBefore  int         `json:"pending_before"`
	PendingAfter   int         `json:"pending_after"`
	Errors         []StepError `json:"errors,omitempty"`
	CheckpointPath string      `json:"checkpoint_path"`
}

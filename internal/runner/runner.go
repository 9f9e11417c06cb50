package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/urdimbre/urdimbre-go/internal/artifacts"
	"github.com/urdimbre/urdimbre-go/internal/coding"
	"github.com/urdimbre/urdimbre-go/internal/config"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/llm"
	"github.com/urdimbre/urdimbre-go/internal/models"
	"github.com/urdimbre/urdimbre-go/internal/store"
	"github.com/urdimbre/urdimbre-go/internal/vector"
)

// Embedder is the embedding slice of the LLM gateway the runner needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Suggester proposes a code for a fragment pack; nil disables llm_suggest.
type Suggester interface {
	ChatJSON(ctx context.Context, req llm.ChatRequest, requiredKeys []string) (map[string]any, error)
}

// suggestKeys are the top-level keys the code suggestion reply must carry.
var suggestKeys = []string{"codigo", "confianza", "memo"}

// Runner drives semantic exploration tasks. Each task is single-threaded
// over its own checkpoint; the supervisor runs many tasks in parallel.
type Runner struct {
	store     *store.Store
	index     vector.Index
	embedder  Embedder
	suggester Suggester
	sampler   *coding.Service
	blobs     artifacts.Store
	registry  *Registry
	cfg       *config.Config
	logger    *slog.Logger
}

// New wires a runner. sampler may be nil; interview ordering then falls back
// to ingest order. suggester may be nil; llm_suggest steps are then skipped.
func New(st *store.Store, idx vector.Index, embedder Embedder, suggester Suggester,
	sampler *coding.Service, blobs artifacts.Store, registry *Registry, cfg *config.Config) *Runner {
	return &Runner{
		store:     st,
		index:     idx,
		embedder:  embedder,
		suggester: suggester,
		sampler:   sampler,
		blobs:     blobs,
		registry:  registry,
		cfg:       cfg,
		logger:    slog.Default().With("component", "runner"),
	}
}

// Execute creates a task from inputs, writes the startup checkpoint, and
// runs it to a terminal state.
func (r *Runner) Execute(ctx context.Context, id Identity, in Inputs) (*Checkpoint, error) {
	in.ApplyDefaults(r.cfg.Runner)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if id.Org == "" && r.cfg.Strict() && !r.cfg.Flags.AllowOrglessTasks {
		return nil, qerr.TenantRequired("org id is empty in strict mode")
	}

	cp := &Checkpoint{
		TaskID:       uuid.NewString(),
		OwnerUser:    id.User,
		OwnerOrg:     id.Org,
		Inputs:       in,
		Status:       StatusPending,
		VisitedSeeds: map[string][]string{},
		GlobalUnique: map[string]float64{},
		CreatedAt:    time.Now(),
	}

	pending, err := r.store.CountPending(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	cp.PendingBefore = pending

	interviews, err := r.resolveInterviews(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(interviews) == 0 {
		return nil, qerr.Validationf("project %s has no interviews", in.ProjectID)
	}
	cp.Interviews = interviews
	cp.Counters.TotalSteps = in.StepsPerInterview * len(interviews)

	r.persist(ctx, cp)
	return cp, r.Run(ctx, cp)
}

// Run drives a checkpoint to a terminal state, finalising the checkpoint and
// post-mortem report even on fatal errors.
func (r *Runner) Run(ctx context.Context, cp *Checkpoint) error {
	cp.Status = StatusRunning
	r.persist(ctx, cp)

	runErr := r.walk(ctx, cp)
	switch {
	case runErr != nil:
		cp.Status = StatusError
		cp.Counters.Message = runErr.Error()
	case cp.Status == StatusRunning:
		if cp.Counters.Saturated {
			cp.Status = StatusSaturated
		} else {
			cp.Status = StatusCompleted
		}
	}

	if after, err := r.store.CountPending(ctx, cp.Inputs.ProjectID); err == nil {
		cp.PendingAfter = after
	}
	r.persist(ctx, cp)
	r.writeReport(ctx, cp)

	r.logger.Info("task finished",
		"task", cp.TaskID, "status", cp.Status,
		"steps", cp.Cursor.GlobalStepCompleted,
		"unique", cp.Counters.UniqueSuggestions,
		"candidates", cp.Counters.CandidatesSubmitted)
	return runErr
}

// resolveInterviews snapshots the interview walk order for the task.
func (r *Runner) resolveInterviews(ctx context.Context, in Inputs) ([]string, error) {
	var names []string
	if r.sampler != nil {
		listing, err := r.sampler.ListAvailableInterviews(ctx, in.ProjectID, coding.SamplingOptions{
			Order:      in.InterviewOrder,
			FocusCodes: in.FocusCodes,
		})
		if err != nil {
			return nil, err
		}
		for _, iv := range listing.Interviews {
			names = append(names, iv.Archivo)
		}
	} else {
		rows, err := r.store.ListInterviews(ctx, in.ProjectID)
		if err != nil {
			return nil, err
		}
		for _, iv := range rows {
			names = append(names, iv.Archivo)
		}
	}

	// A requested archivo rotates to the front, keeping relative order.
	if in.Archivo != "" {
		for i, name := range names {
			if name == in.Archivo {
				names = append(append([]string{name}, names[:i]...), names[i+1:]...)
				break
			}
		}
	}
	if in.MaxInterviews > 0 && len(names) > in.MaxInterviews {
		names = names[:in.MaxInterviews]
	}
	return names, nil
}

// seedPool lists the seed candidates of one interview: its fragments, minus
// the already-coded ones unless include_coded is set.
func (r *Runner) seedPool(ctx context.Context, cp *Checkpoint, archivo string) ([]string, error) {
	ids, err := r.store.ListFragmentIDs(ctx, cp.Inputs.ProjectID, archivo)
	if err != nil {
		return nil, err
	}
	if cp.Inputs.IncludeCoded {
		return ids, nil
	}
	coded, err := r.store.CodedFragmentIDs(ctx, cp.Inputs.ProjectID, archivo)
	if err != nil {
		return nil, err
	}
	pool := ids[:0]
	for _, id := range ids {
		if !coded[id] {
			pool = append(pool, id)
		}
	}
	return pool, nil
}

// walk runs the interview loop from the cursor position.
func (r *Runner) walk(ctx context.Context, cp *Checkpoint) error {
	for idx := cp.Cursor.InterviewIndex; idx < len(cp.Interviews); idx++ {
		cp.Cursor.InterviewIndex = idx
		archivo := cp.Interviews[idx]

		pool, err := r.seedPool(ctx, cp, archivo)
		if err != nil {
			return err
		}

		seed := cp.Cursor.NextSeed
		cp.Cursor.NextSeed = ""
		if seed == "" {
			seed = r.pickInitialSeed(cp, archivo, pool)
		}
		if seed == "" {
			cp.Counters.Message = fmt.Sprintf("sin semilla disponible en %s", archivo)
			r.logger.Info("no seed available", "archivo", archivo)
			cp.Cursor.StepInInterviewCompleted = 0
			continue
		}

		intra := cp.Cursor.StepInInterviewCompleted
		for intra < cp.Inputs.StepsPerInterview {
			if r.registry != nil && r.registry.CancelRequested(cp.TaskID) {
				cp.Status = StatusCancelled
				cp.Counters.Message = "cancelada por el usuario"
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			intra++
			next, stepErr := r.step(ctx, cp, archivo, seed, intra)
			if stepErr != nil {
				if qerr.IsFatal(stepErr) {
					return stepErr
				}
				cp.Errors = append(cp.Errors, StepError{
					Archivo: archivo, Step: cp.Cursor.GlobalStepCompleted + 1,
					Error: stepErr.Error(), Skipped: true,
				})
				next = r.nextUnvisited(cp, archivo, pool)
			}

			cp.Cursor.GlobalStepCompleted++
			cp.Cursor.StepInInterviewCompleted = intra
			cp.Counters.CurrentStep = cp.Cursor.GlobalStepCompleted
			if next == "" {
				next = r.nextUnvisited(cp, archivo, pool)
			}
			cp.Cursor.NextSeed = next
			r.persist(ctx, cp)

			if cp.Counters.Saturated {
				return nil
			}
			if next == "" {
				break
			}
			seed = next
		}
		cp.Cursor.StepInInterviewCompleted = 0
		cp.Cursor.NextSeed = ""
	}
	return nil
}

// pickInitialSeed prefers the explicit input seed when it belongs to the
// pool, then the first pool fragment.
func (r *Runner) pickInitialSeed(cp *Checkpoint, archivo string, pool []string) string {
	if cp.Inputs.SeedFragmentID != "" {
		for _, id := range pool {
			if id == cp.Inputs.SeedFragmentID && !cp.visited(archivo, id) {
				return id
			}
		}
	}
	return r.nextUnvisited(cp, archivo, pool)
}

// nextUnvisited returns the first pool fragment not yet used as a seed.
func (r *Runner) nextUnvisited(cp *Checkpoint, archivo string, pool []string) string {
	for _, id := range pool {
		if !cp.visited(archivo, id) {
			return id
		}
	}
	return ""
}

// step runs one exploration step and returns the next seed chosen from the
// fresh suggestions, or "" when the strategy found none.
func (r *Runner) step(ctx context.Context, cp *Checkpoint, archivo, seed string, intra int) (string, error) {
	cp.markVisited(archivo, seed)

	frag, err := r.store.GetFragment(ctx, cp.Inputs.ProjectID, seed)
	if err != nil {
		return "", err
	}
	seedVec, err := r.embedder.EmbedOne(ctx, frag.Text)
	if err != nil {
		cp.Counters.LLMFailures++
		return "", err
	}

	var results []vector.Result
	searchErr := withRetries(ctx, func() error {
		var err error
		results, err = r.index.Search(ctx, vector.SearchParams{
			ProjectID:  cp.Inputs.ProjectID,
			Vector:     seedVec,
			Limit:      cp.Inputs.TopK,
			Archivo:    archivo,
			ExcludeIDs: []string{seed},
		})
		return err
	}, func(attempt int, err error) {
		cp.Counters.QdrantRetries++
		r.logger.Warn("vector search retry",
			"task", cp.TaskID, "attempt", attempt, "error", err)
	})
	if searchErr != nil {
		cp.Counters.QdrantFailures++
		return "", searchErr
	}

	// Orphan filter: ids live in the vector store but absent from the
	// relational anchor are never acted on.
	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.FragmentID
	}
	exists, err := r.store.FilterExistingFragments(ctx, cp.Inputs.ProjectID, ids)
	if err != nil {
		return "", err
	}
	kept := results[:0]
	for _, res := range results {
		if exists[res.FragmentID] {
			kept = append(kept, res)
		} else {
			r.logger.Warn("orphan suggestion dropped",
				"fragment", res.FragmentID, "archivo", archivo)
		}
	}
	sugs := toSuggestions(kept)

	newUnique := 0
	for _, s := range sugs {
		best, seen := cp.GlobalUnique[s.FragmentID]
		if !seen {
			newUnique++
		}
		if !seen || s.Score > best {
			cp.GlobalUnique[s.FragmentID] = s.Score
		}
	}
	cp.Counters.UniqueSuggestions = len(cp.GlobalUnique)

	var code *codeSuggestion
	if cp.Inputs.LLMSuggest && r.suggester != nil {
		code = r.suggestCode(ctx, cp, frag.Text, sugs)
	}

	if cp.Inputs.SaveMemos {
		r.saveMemo(ctx, cp, archivo, frag.Text, intra, sugs, code)
	}
	if cp.Inputs.SubmitCandidates && code != nil {
		r.submitCandidates(ctx, cp, archivo, code, sugs)
	}

	r.updateSaturation(cp, newUnique, code)

	return r.chooseNext(cp, archivo, sugs), nil
}

// suggestCode asks the LLM for a code name over the fragment pack; failures
// are counted and the step continues without a code.
func (r *Runner) suggestCode(ctx context.Context, cp *Checkpoint, seedText string, sugs []suggestion) *codeSuggestion {
	model := cp.Inputs.LLMModel
	if model == "" {
		model = llm.AliasChat
	}
	cp.Counters.LLMCalls++
	reply, err := r.suggester.ChatJSON(ctx, llm.ChatRequest{
		Model: model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "Eres un investigador cualitativo haciendo codificación abierta. " +
				"Propón un código para el conjunto de fragmentos. Responde JSON con las claves " +
				`"codigo" (nombre corto en minúsculas), "confianza" (0 a 1) y "memo" (2-3 frases).`},
			{Role: llm.RoleUser, Content: buildFragmentPack(seedText, sugs, cp.Inputs.TopK)},
		},
	}, suggestKeys)
	if err != nil {
		cp.Counters.LLMFailures++
		r.logger.Warn("code suggestion failed", "task", cp.TaskID, "error", err)
		return nil
	}

	code := &codeSuggestion{}
	if v, ok := reply["codigo"].(string); ok {
		code.Codigo = v
	}
	if v, ok := reply["confianza"].(float64); ok {
		code.Confianza = v
	}
	if v, ok := reply["memo"].(string); ok {
		code.Memo = v
	}
	if code.Codigo == "" {
		cp.Counters.LLMFailures++
		return nil
	}
	if !cp.knowsCode(code.Codigo) {
		cp.KnownCodes = append(cp.KnownCodes, code.Codigo)
	}
	return code
}

// saveMemo writes the per-step Markdown memo artifact; failures are logged.
func (r *Runner) saveMemo(ctx context.Context, cp *Checkpoint, archivo, seedText string, intra int, sugs []suggestion, code *codeSuggestion) {
	codeName := "sin-codigo"
	if code != nil {
		codeName = code.Codigo
	}
	now := time.Now()
	path := artifacts.RunnerMemoPath(cp.Inputs.ProjectID, archivo,
		cp.Cursor.GlobalStepCompleted+1, intra, codeName, now)
	data := renderStepMemo(archivo, seedText, cp.Cursor.GlobalStepCompleted+1, intra, sugs, code, now)
	if _, err := r.blobs.Put(ctx, cp.OwnerOrg, cp.Inputs.ProjectID, path, data, "text/markdown"); err != nil {
		r.logger.Warn("memo write failed", "task", cp.TaskID, "error", err)
		return
	}
	cp.Counters.MemosSaved++
}

// submitCandidates inserts up to candidates_per_step ledger rows from the
// top suggestions, tagged as semantic suggestions.
func (r *Runner) submitCandidates(ctx context.Context, cp *Checkpoint, archivo string, code *codeSuggestion, sugs []suggestion) {
	rows := make([]*models.CandidateCode, 0, cp.Inputs.CandidatesPerStep)
	for i, s := range sugs {
		if i == cp.Inputs.CandidatesPerStep {
			break
		}
		fragID := s.FragmentID
		rows = append(rows, &models.CandidateCode{
			ProjectID:       cp.Inputs.ProjectID,
			Codigo:          code.Codigo,
			FragmentID:      &fragID,
			Archivo:         archivo,
			Cita:            truncateText(s.Text, models.MaxCitaLen),
			SourceOrigin:    models.OriginSemanticSuggestion,
			ScoreConfidence: code.Confianza,
			Status:          models.CandidatePendiente,
			Memo:            code.Memo,
		})
	}
	if len(rows) == 0 {
		return
	}
	res, err := r.store.InsertCandidates(ctx, rows, false)
	if err != nil {
		r.logger.Warn("candidate submit failed", "task", cp.TaskID, "error", err)
		return
	}
	cp.Counters.CandidatesSubmitted += res.Inserted
}

// updateSaturation maintains the two saturation streaks and flips the task
// into saturated when either reaches its patience.
func (r *Runner) updateSaturation(cp *Checkpoint, newUnique int, code *codeSuggestion) {
	if newUnique < cp.Inputs.MinNewUniquePerStep {
		cp.NoGrowthStreak++
	} else {
		cp.NoGrowthStreak = 0
	}
	if code != nil {
		if code.Codigo == cp.Counters.LastSuggestedCode {
			cp.RepeatCodeStreak++
		} else {
			cp.RepeatCodeStreak = 0
		}
		cp.Counters.LastSuggestedCode = code.Codigo
	}

	if cp.NoGrowthStreak >= cp.Inputs.SaturationPatience ||
		cp.RepeatCodeStreak >= cp.Inputs.CodeRepeatPatience {
		cp.Counters.Saturated = true
		cp.Counters.Message = fmt.Sprintf(
			"Saturación detectada: %d pasos sin fragmentos nuevos, %d códigos repetidos",
			cp.NoGrowthStreak, cp.RepeatCodeStreak)
	}
}

// chooseNext applies the seed strategy over this step's unvisited
// suggestions.
func (r *Runner) chooseNext(cp *Checkpoint, archivo string, sugs []suggestion) string {
	candidates := make([]suggestion, 0, len(sugs))
	for _, s := range sugs {
		if !cp.visited(archivo, s.FragmentID) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	if cp.Inputs.Strategy == StrategyBestScore {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})
	}
	return candidates[0].FragmentID
}

// persist saves the checkpoint everywhere it lives: the registry, the
// relational mirror, and the durable artifact copy. Mirror and artifact
// failures are logged, never fatal; the registry is authoritative.
func (r *Runner) persist(ctx context.Context, cp *Checkpoint) {
	if r.registry != nil {
		if err := r.registry.Save(cp); err != nil {
			r.logger.Error("registry save failed", "task", cp.TaskID, "error", err)
		}
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		r.logger.Error("checkpoint marshal failed", "task", cp.TaskID, "error", err)
		return
	}

	if r.store != nil {
		row := &store.RunnerTaskRow{
			TaskID:     cp.TaskID,
			ProjectID:  cp.Inputs.ProjectID,
			OwnerUser:  cp.OwnerUser,
			OwnerOrg:   cp.OwnerOrg,
			Status:     string(cp.Status),
			Saturated:  cp.Counters.Saturated,
			Checkpoint: data,
		}
		if cp.ResumedFrom != "" {
			row.ResumedFrom = sql.NullString{String: cp.ResumedFrom, Valid: true}
		}
		if err := r.store.MirrorRunnerTask(ctx, row); err != nil {
			r.logger.Warn("task mirror failed", "task", cp.TaskID, "error", err)
		}
	}

	if r.blobs != nil {
		path := artifacts.CheckpointPath(cp.Inputs.ProjectID, cp.TaskID)
		if _, err := r.blobs.Put(ctx, cp.OwnerOrg, cp.Inputs.ProjectID, path, data, "application/json"); err != nil {
			r.logger.Warn("checkpoint artifact write failed", "task", cp.TaskID, "error", err)
		}
	}
}

// writeReport stores the compact post-mortem artifact.
func (r *Runner) writeReport(ctx context.Context, cp *Checkpoint) {
	report := &Report{
		TaskID:         cp.TaskID,
		Status:         cp.Status,
		StepsCompleted: cp.Cursor.GlobalStepCompleted,
		Saturated:      cp.Counters.Saturated,
		Counters:       cp.Counters,
		PendingBefore:  cp.PendingBefore,
		PendingAfter:   cp.PendingAfter,
		Errors:         cp.Errors,
		CheckpointPath: artifacts.CheckpointPath(cp.Inputs.ProjectID, cp.TaskID),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		r.logger.Error("report marshal failed", "task", cp.TaskID, "error", err)
		return
	}
	if r.blobs == nil {
		return
	}
	path := artifacts.RunnerReportPath(cp.Inputs.ProjectID, cp.TaskID)
	if _, err := r.blobs.Put(ctx, cp.OwnerOrg, cp.Inputs.ProjectID, path, data, "application/json"); err != nil {
		r.logger.Warn("report artifact write failed", "task", cp.TaskID, "error", err)
	}
}

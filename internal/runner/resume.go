package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/urdimbre/urdimbre-go/internal/artifacts"
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

// Resume continues a prior task from its last checkpoint. The resumed run
// gets a fresh task id with resumed_from set and re-emits status from the
// stored cursor: a task killed after step k emits step k+1 next.
func (r *Runner) Resume(ctx context.Context, id Identity, prevTaskID string) (*Checkpoint, error) {
	prev, err := r.loadCheckpoint(ctx, id, prevTaskID)
	if err != nil {
		return nil, err
	}
	if prev.Status == StatusCompleted || prev.Status == StatusSaturated {
		return nil, qerr.Validationf("task %s already finished with status %s", prevTaskID, prev.Status)
	}

	cp := *prev
	cp.TaskID = uuid.NewString()
	cp.ResumedFrom = prevTaskID
	cp.Status = StatusPending
	cp.CreatedAt = time.Now()
	cp.Counters.Message = ""
	cp.Counters.Saturated = false

	r.logger.Info("resuming task",
		"previous", prevTaskID, "task", cp.TaskID,
		"interview_index", cp.Cursor.InterviewIndex,
		"step_completed", cp.Cursor.StepInInterviewCompleted,
		"next_seed", cp.Cursor.NextSeed,
		"global_step", cp.Cursor.GlobalStepCompleted)

	r.persist(ctx, &cp)
	return &cp, r.Run(ctx, &cp)
}

// loadCheckpoint reads a task's state, preferring the registry and falling
// back to the durable artifact copy.
func (r *Runner) loadCheckpoint(ctx context.Context, id Identity, taskID string) (*Checkpoint, error) {
	if r.registry != nil {
		cp, err := r.registry.GetAuthorized(taskID, id)
		if err == nil {
			return cp, nil
		}
		if qerr.KindOf(err) == qerr.KindOwnership {
			return nil, err
		}
	}
	if r.blobs == nil {
		return nil, qerr.NotFoundf("task %s not found", taskID)
	}

	// The checkpoint artifact carries the project in its path, which we do
	// not know here; scan the registry mirror first.
	row, err := r.store.GetRunnerTaskMirror(ctx, taskID)
	if err != nil {
		return nil, qerr.NotFoundf("checkpoint for task %s not found", taskID)
	}
	blobPath := artifacts.CheckpointPath(row.ProjectID, taskID)
	prefix := artifacts.TenantPrefix(row.OwnerOrg, row.ProjectID)
	data, err := r.blobs.Get(ctx, r.blobs.Container(), prefix+blobPath)
	if err != nil {
		return nil, qerr.NotFoundf("checkpoint for task %s not found", taskID)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, qerr.Wrap(err, qerr.KindPersistent, "checkpoint is corrupt")
	}
	if err := Authorize(&cp, id); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Status returns the live counters of a task under the ownership model.
func (r *Runner) Status(ctx context.Context, id Identity, taskID string) (*Checkpoint, error) {
	return r.loadCheckpoint(ctx, id, taskID)
}

// Result returns the post-mortem report of a finished task.
func (r *Runner) Result(ctx context.Context, id Identity, taskID string) (*Report, error) {
	cp, err := r.loadCheckpoint(ctx, id, taskID)
	if err != nil {
		return nil, err
	}
	if !cp.Status.Terminal() {
		return nil, qerr.Validationf("task %s is still %s", taskID, cp.Status)
	}
	return &Report{
		TaskID:         cp.TaskID,
		Status:         cp.Status,
		StepsCompleted: cp.Cursor.GlobalStepCompleted,
		Saturated:      cp.Counters.Saturated,
		Counters:       cp.Counters,
		PendingBefore:  cp.PendingBefore,
		PendingAfter:   cp.PendingAfter,
		Errors:         cp.Errors,
		CheckpointPath: artifacts.CheckpointPath(cp.Inputs.ProjectID, cp.TaskID),
	}, nil
}

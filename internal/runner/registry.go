package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

var (
	bucketTasks  = []byte("tasks")
	bucketCancel = []byte("cancel")
)

// Identity is the caller identity checked against task ownership.
type Identity struct {
	User  string
	Org   string
	Admin bool
}

// Registry is the authoritative task store, a local bbolt file. The
// relational mirror exists for listing only; status and resume always read
// from here.
type Registry struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewRegistry opens (or creates) the task registry file.
func NewRegistry(path string) (*Registry, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open task registry %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTasks, bucketCancel} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init task registry: %w", err)
	}
	return &Registry{db: db, logger: slog.Default().With("component", "runner.registry")}, nil
}

// Close releases the registry file.
func (r *Registry) Close() error { return r.db.Close() }

// Save upserts a task checkpoint.
func (r *Registry) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", cp.TaskID, err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(cp.TaskID), data)
	})
}

// Get loads a task by id without an ownership check; internal use only.
func (r *Registry) Get(taskID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(taskID))
		if data == nil {
			return qerr.NotFoundf("task %s not found", taskID)
		}
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetAuthorized loads a task and enforces the ownership model: only the
// creating user+org or an admin may see it. Tasks without owner metadata are
// admin-only.
func (r *Registry) GetAuthorized(taskID string, id Identity) (*Checkpoint, error) {
	cp, err := r.Get(taskID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(cp, id); err != nil {
		return nil, err
	}
	return cp, nil
}

// Authorize checks one identity against one task's ownership.
func Authorize(cp *Checkpoint, id Identity) error {
	if id.Admin {
		return nil
	}
	if cp.OwnerUser == "" && cp.OwnerOrg == "" {
		return qerr.Ownership("task has no owner metadata; admin access required")
	}
	if cp.OwnerUser != id.User || cp.OwnerOrg != id.Org {
		return qerr.Ownership("task belongs to another user")
	}
	return nil
}

// RequestCancel flags a task for cooperative cancellation; the worker checks
// the flag between steps.
func (r *Registry) RequestCancel(taskID string, id Identity) error {
	if _, err := r.GetAuthorized(taskID, id); err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCancel).Put([]byte(taskID), []byte("1"))
	})
}

// CancelRequested reports whether cancellation was signalled.
func (r *Registry) CancelRequested(taskID string) bool {
	var requested bool
	_ = r.db.View(func(tx *bolt.Tx) error {
		requested = tx.Bucket(bucketCancel).Get([]byte(taskID)) != nil
		return nil
	})
	return requested
}

// List returns the tasks of one project, newest first.
func (r *Registry) List(projectID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*Checkpoint
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, data []byte) error {
			var cp Checkpoint
			if err := json.Unmarshal(data, &cp); err != nil {
				return err
			}
			if cp.Inputs.ProjectID == projectID {
				out = append(out, &cp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Newest first, bounded.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

package kv

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/coordinator/api"
)

// indexSeparator joins a parent task id and a subtask id in the
// task-subtasks index bucket. Task and subtask ids are UUIDs, which never
// contain a NUL byte.
var indexSeparator = []byte{0x00}

// Task retrieves a task by id. Returns ErrNotFound for unknown ids.
func (s *Store) Task(ctx context.Context, id string) (*api.Task, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Task")
	defer span.End()
	var task *api.Task
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(tasksBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		task = &api.Task{}
		return json.Unmarshal(enc, task)
	})
	return task, err
}

// SaveTask upserts a task row keyed by its id.
func (s *Store) SaveTask(ctx context.Context, task *api.Task) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveTask")
	defer span.End()
	if task == nil || task.ID == "" {
		return errors.New("nil task or empty task id")
	}
	enc, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(tasksBucket).Put([]byte(task.ID), enc)
	})
}

// Tasks returns every stored task.
func (s *Store) Tasks(ctx context.Context) ([]*api.Task, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Tasks")
	defer span.End()
	var tasks []*api.Task
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(tasksBucket).ForEach(func(_, enc []byte) error {
			task := &api.Task{}
			if err := json.Unmarshal(enc, task); err != nil {
				return err
			}
			tasks = append(tasks, task)
			return nil
		})
	})
	return tasks, err
}

// Subtask retrieves a subtask by id. Returns ErrNotFound for unknown ids.
func (s *Store) Subtask(ctx context.Context, id string) (*api.Subtask, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Subtask")
	defer span.End()
	var subtask *api.Subtask
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(subtasksBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		subtask = &api.Subtask{}
		return json.Unmarshal(enc, subtask)
	})
	return subtask, err
}

// SaveSubtask upserts a subtask row and its parent-task index entry.
func (s *Store) SaveSubtask(ctx context.Context, subtask *api.Subtask) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveSubtask")
	defer span.End()
	if subtask == nil || subtask.ID == "" {
		return errors.New("nil subtask or empty subtask id")
	}
	enc, err := json.Marshal(subtask)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return putSubtask(tx, subtask, enc)
	})
}

// SubtasksByTask returns every subtask of the given parent task.
func (s *Store) SubtasksByTask(ctx context.Context, taskID string) ([]*api.Subtask, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SubtasksByTask")
	defer span.End()
	var subtasks []*api.Subtask
	err := s.view(func(tx *bolt.Tx) error {
		subtaskBkt := tx.Bucket(subtasksBucket)
		c := tx.Bucket(taskSubtasksBucket).Cursor()
		prefix := append([]byte(taskID), indexSeparator...)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			enc := subtaskBkt.Get(v)
			if enc == nil {
				continue
			}
			subtask := &api.Subtask{}
			if err := json.Unmarshal(enc, subtask); err != nil {
				return err
			}
			subtasks = append(subtasks, subtask)
		}
		return nil
	})
	return subtasks, err
}

// AdmitTask persists a task together with its decomposed subtasks in a
// single transaction, so a failed admission enqueues nothing.
func (s *Store) AdmitTask(ctx context.Context, task *api.Task, subtasks []*api.Subtask) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.AdmitTask")
	defer span.End()
	if task == nil || task.ID == "" {
		return errors.New("nil task or empty task id")
	}
	taskEnc, err := json.Marshal(task)
	if err != nil {
		return err
	}
	encoded := make([][]byte, len(subtasks))
	for i, st := range subtasks {
		if st == nil || st.ID == "" {
			return errors.New("nil subtask or empty subtask id")
		}
		if encoded[i], err = json.Marshal(st); err != nil {
			return err
		}
	}
	return s.update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(tasksBucket).Put([]byte(task.ID), taskEnc); err != nil {
			return err
		}
		for i, st := range subtasks {
			if err := putSubtask(tx, st, encoded[i]); err != nil {
				return err
			}
		}
		if task.Fingerprint != "" {
			return tx.Bucket(fingerprintsBucket).Put([]byte(task.Fingerprint), []byte(task.ID))
		}
		return nil
	})
}

// TaskIDByFingerprint resolves a stored submission fingerprint to its task
// id. Returns ErrNotFound when no submission with that fingerprint exists.
func (s *Store) TaskIDByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.TaskIDByFingerprint")
	defer span.End()
	var taskID string
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(fingerprintsBucket).Get([]byte(fingerprint))
		if enc == nil {
			return ErrNotFound
		}
		taskID = string(enc)
		return nil
	})
	return taskID, err
}

// SaveTaskFingerprint records the audit fingerprint of a submission.
func (s *Store) SaveTaskFingerprint(ctx context.Context, fingerprint, taskID string) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveTaskFingerprint")
	defer span.End()
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(fingerprintsBucket).Put([]byte(fingerprint), []byte(taskID))
	})
}

func putSubtask(tx *bolt.Tx, subtask *api.Subtask, enc []byte) error {
	if err := tx.Bucket(subtasksBucket).Put([]byte(subtask.ID), enc); err != nil {
		return err
	}
	indexKey := append(append([]byte(subtask.TaskID), indexSeparator...), []byte(subtask.ID)...)
	return tx.Bucket(taskSubtasksBucket).Put(indexKey, []byte(subtask.ID))
}

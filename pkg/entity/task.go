package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/repository"
	"github.com/nimburion/docstore/pkg/store"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskReview     TaskStatus = "review"
	TaskTesting    TaskStatus = "testing"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// closedTaskStatuses are the statuses excluded from due-date queries.
var closedTaskStatuses = []TaskStatus{TaskCompleted, TaskCancelled}

// Task is a unit of work, optionally inside a project.
type Task struct {
	ID             string         `doc:"id"`
	Title          string         `doc:"title"`
	Description    string         `doc:"description"`
	Status         TaskStatus     `doc:"status"`
	Priority       Priority       `doc:"priority"`
	AssigneeID     string         `doc:"assigneeId,omitempty"`
	ReporterID     string         `doc:"reporterId"`
	ProjectID      string         `doc:"projectId,omitempty"`
	MilestoneID    string         `doc:"milestoneId,omitempty"`
	ParentTaskID   string         `doc:"parentTaskId,omitempty"`
	DueDate        *time.Time     `doc:"dueDate"`
	EstimatedHours float64        `doc:"estimatedHours,omitempty"`
	Tags           []string       `doc:"tags"`
	Comments       []Comment      `doc:"comments"`
	Dependencies   []string       `doc:"dependencies"`
	Watchers       []string       `doc:"watchers"`
	CustomFields   map[string]any `doc:"customFields"`
	CreatedAt      time.Time      `doc:"createdAt"`
	UpdatedAt      time.Time      `doc:"updatedAt"`
	CompletedAt    *time.Time     `doc:"completedAt"`
}

// Comment is a discussion entry on a task.
type Comment struct {
	ID        string     `doc:"id"`
	Content   string     `doc:"content"`
	AuthorID  string     `doc:"authorId"`
	CreatedAt time.Time  `doc:"createdAt"`
	UpdatedAt *time.Time `doc:"updatedAt"`
	Mentions  []string   `doc:"mentions"`
}

// TaskRepository is the task collection.
type TaskRepository struct {
	*repository.Repository[Task]
	now func() time.Time
}

// NewTaskRepository opens the task collection.
func NewTaskRepository(adapter store.Adapter, opts ...Option) (*TaskRepository, error) {
	repo, s, err := open[Task](adapter, Tasks, opts)
	if err != nil {
		return nil, err
	}
	return &TaskRepository{Repository: repo, now: s.now}, nil
}

// ByProject returns the tasks of projectID.
func (r *TaskRepository) ByProject(ctx context.Context, projectID string) ([]Task, error) {
	return r.Query(ctx, where("projectId", query.Equal, projectID, newest()))
}

// ByAssignee returns the tasks assigned to userID.
func (r *TaskRepository) ByAssignee(ctx context.Context, userID string) ([]Task, error) {
	return r.Query(ctx, where("assigneeId", query.Equal, userID, newest()))
}

// ByStatus returns the tasks in status.
func (r *TaskRepository) ByStatus(ctx context.Context, status TaskStatus) ([]Task, error) {
	return r.Query(ctx, where("status", query.Equal, status, newest()))
}

// Overdue returns the open tasks whose due date has passed, earliest first.
// Tasks without a due date are never overdue.
func (r *TaskRepository) Overdue(ctx context.Context) ([]Task, error) {
	return r.Query(ctx, query.Options{
		Filters: []query.Filter{
			query.Where("status", query.NotIn, closedTaskStatuses),
			query.Where("dueDate", query.LessThan, r.now()),
		},
		OrderBy: []query.Order{query.OrderBy("dueDate", query.Asc)},
	})
}

// DueSoon returns the open tasks due within the next days days.
func (r *TaskRepository) DueSoon(ctx context.Context, days int) ([]Task, error) {
	if days < 0 {
		return nil, invalid(string(Tasks), "due_soon", "", fmt.Errorf("days must not be negative, got %d", days))
	}
	now := r.now()
	return r.Query(ctx, query.Options{
		Filters: []query.Filter{
			query.Where("status", query.NotIn, closedTaskStatuses),
			query.Where("dueDate", query.GreaterOrEqual, now),
			query.Where("dueDate", query.LessOrEqual, now.AddDate(0, 0, days)),
		},
		OrderBy: []query.Order{query.OrderBy("dueDate", query.Asc)},
	})
}

// UpdateStatus moves the task to status. Completing a task stamps completedAt;
// reopening it clears the stamp.
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID string, status TaskStatus) error {
	patch := document.Patch{"status": status, "completedAt": nil}
	if status == TaskCompleted {
		patch["completedAt"] = r.now()
	}
	return r.Update(ctx, taskID, patch)
}

// AddComment appends a comment and returns its id.
func (r *TaskRepository) AddComment(ctx context.Context, taskID string, comment Comment) (string, error) {
	if comment.Content == "" {
		return "", invalid(string(Tasks), "add_comment", taskID, fmt.Errorf("comment content is required"))
	}
	comment.ID = uuid.NewString()
	comment.CreatedAt = r.now()
	err := modify(ctx, r.Repository, taskID, func(t *Task) (document.Patch, error) {
		return document.Patch{"comments": append(t.Comments, comment)}, nil
	})
	if err != nil {
		return "", err
	}
	return comment.ID, nil
}

// AddWatcher subscribes userID to the task. Adding a watcher twice is a no-op.
func (r *TaskRepository) AddWatcher(ctx context.Context, taskID, userID string) error {
	return modify(ctx, r.Repository, taskID, func(t *Task) (document.Patch, error) {
		for _, w := range t.Watchers {
			if w == userID {
				return nil, nil
			}
		}
		return document.Patch{"watchers": append(t.Watchers, userID)}, nil
	})
}

// RemoveWatcher unsubscribes userID from the task.
func (r *TaskRepository) RemoveWatcher(ctx context.Context, taskID, userID string) error {
	return modify(ctx, r.Repository, taskID, func(t *Task) (document.Patch, error) {
		watchers := make([]string, 0, len(t.Watchers))
		for _, w := range t.Watchers {
			if w != userID {
				watchers = append(watchers, w)
			}
		}
		if len(watchers) == len(t.Watchers) {
			return nil, nil
		}
		return document.Patch{"watchers": watchers}, nil
	})
}

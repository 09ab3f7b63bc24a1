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

// ProjectStatus is the lifecycle phase of a project.
type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on-hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project is a client engagement with a team and milestones.
type Project struct {
	ID          string        `doc:"id"`
	Name        string        `doc:"name"`
	Description string        `doc:"description"`
	Status      ProjectStatus `doc:"status"`
	Progress    int           `doc:"progress"`
	Priority    Priority      `doc:"priority"`
	StartDate   time.Time     `doc:"startDate"`
	EndDate     *time.Time    `doc:"endDate"`
	Budget      *Budget       `doc:"budget"`
	TeamMembers []Member      `doc:"teamMembers"`
	ClientID    string        `doc:"clientId,omitempty"`
	ManagerID   string        `doc:"managerId"`
	Category    string        `doc:"category"`
	Tags        []string      `doc:"tags"`
	Milestones  []Milestone   `doc:"milestones"`
	CreatedAt   time.Time     `doc:"createdAt"`
	UpdatedAt   time.Time     `doc:"updatedAt"`
}

// Budget tracks estimated against actual spend.
type Budget struct {
	Estimated float64 `doc:"estimated"`
	Actual    float64 `doc:"actual"`
	Currency  string  `doc:"currency"`
}

// Member is one team member of a project.
type Member struct {
	UserID string `doc:"userId"`
	Role   string `doc:"role"`
	// Allocation is a percentage of the member's time.
	Allocation int       `doc:"allocation"`
	JoinedAt   time.Time `doc:"joinedAt"`
}

// MilestoneStatus is the phase of a milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in-progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneOverdue    MilestoneStatus = "overdue"
)

// Milestone is a dated project checkpoint.
type Milestone struct {
	ID          string          `doc:"id"`
	Title       string          `doc:"title"`
	Description string          `doc:"description"`
	DueDate     time.Time       `doc:"dueDate"`
	Status      MilestoneStatus `doc:"status"`
	Tasks       []string        `doc:"tasks"`
	CompletedAt *time.Time      `doc:"completedAt"`
}

// ProjectRepository is the project collection.
type ProjectRepository struct {
	*repository.Repository[Project]
	now func() time.Time
}

// Cosa fa: apre il repository dei progetti sulla collezione "projects".
// Cosa NON fa: non valida l'esistenza di clienti o manager referenziati.
// Esempio minimo: projects, err := entity.NewProjectRepository(adapter, entity.WithClock(time.Now))
func NewProjectRepository(adapter store.Adapter, opts ...Option) (*ProjectRepository, error) {
	repo, s, err := open[Project](adapter, Projects, opts)
	if err != nil {
		return nil, err
	}
	return &ProjectRepository{Repository: repo, now: s.now}, nil
}

// ByStatus returns the projects in status, newest first.
func (r *ProjectRepository) ByStatus(ctx context.Context, status ProjectStatus) ([]Project, error) {
	return r.Query(ctx, where("status", query.Equal, status, newest()))
}

// ByManager returns the projects led by managerID.
func (r *ProjectRepository) ByManager(ctx context.Context, managerID string) ([]Project, error) {
	return r.Query(ctx, where("managerId", query.Equal, managerID, newest()))
}

// ByClient returns the projects of clientID.
func (r *ProjectRepository) ByClient(ctx context.Context, clientID string) ([]Project, error) {
	return r.Query(ctx, where("clientId", query.Equal, clientID, newest()))
}

// Active returns the active projects.
func (r *ProjectRepository) Active(ctx context.Context) ([]Project, error) {
	return r.ByStatus(ctx, ProjectActive)
}

// AddTeamMember adds member to the project, replacing an existing entry for the
// same user. A zero JoinedAt is set to now.
func (r *ProjectRepository) AddTeamMember(ctx context.Context, projectID string, member Member) error {
	if member.UserID == "" {
		return invalid(string(Projects), "add_team_member", projectID, fmt.Errorf("member user id is required"))
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = r.now()
	}
	return modify(ctx, r.Repository, projectID, func(p *Project) (document.Patch, error) {
		members := make([]Member, 0, len(p.TeamMembers)+1)
		for _, m := range p.TeamMembers {
			if m.UserID != member.UserID {
				members = append(members, m)
			}
		}
		return document.Patch{"teamMembers": append(members, member)}, nil
	})
}

// RemoveTeamMember removes userID from the project team.
func (r *ProjectRepository) RemoveTeamMember(ctx context.Context, projectID, userID string) error {
	return modify(ctx, r.Repository, projectID, func(p *Project) (document.Patch, error) {
		members := make([]Member, 0, len(p.TeamMembers))
		for _, m := range p.TeamMembers {
			if m.UserID != userID {
				members = append(members, m)
			}
		}
		if len(members) == len(p.TeamMembers) {
			return nil, nil
		}
		return document.Patch{"teamMembers": members}, nil
	})
}

// UpdateProgress sets the progress percentage. 100 completes the project; any
// other value makes it active.
func (r *ProjectRepository) UpdateProgress(ctx context.Context, projectID string, progress int) error {
	if progress < 0 || progress > 100 {
		return invalid(string(Projects), "update_progress", projectID, fmt.Errorf("progress %d outside 0..100", progress))
	}
	status := ProjectActive
	if progress == 100 {
		status = ProjectCompleted
	}
	return r.Update(ctx, projectID, document.Patch{"progress": progress, "status": status})
}

// AddMilestone appends a milestone and returns its id. Empty ids and statuses
// get defaults.
func (r *ProjectRepository) AddMilestone(ctx context.Context, projectID string, milestone Milestone) (string, error) {
	if milestone.ID == "" {
		milestone.ID = uuid.NewString()
	}
	if milestone.Status == "" {
		milestone.Status = MilestonePending
	}
	err := modify(ctx, r.Repository, projectID, func(p *Project) (document.Patch, error) {
		return document.Patch{"milestones": append(p.Milestones, milestone)}, nil
	})
	if err != nil {
		return "", err
	}
	return milestone.ID, nil
}

// CompleteMilestone marks a milestone completed now. An unknown milestone is
// NotFound.
func (r *ProjectRepository) CompleteMilestone(ctx context.Context, projectID, milestoneID string) error {
	return modify(ctx, r.Repository, projectID, func(p *Project) (document.Patch, error) {
		for i := range p.Milestones {
			if p.Milestones[i].ID != milestoneID {
				continue
			}
			at := r.now()
			p.Milestones[i].Status = MilestoneCompleted
			p.Milestones[i].CompletedAt = &at
			return document.Patch{"milestones": p.Milestones}, nil
		}
		return nil, &repository.Error{
			Kind:       repository.ErrNotFound,
			Op:         "complete_milestone",
			Collection: string(Projects),
			ID:         projectID,
			Err:        fmt.Errorf("milestone %s", milestoneID),
		}
	})
}

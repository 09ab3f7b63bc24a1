package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimburion/docstore/pkg/repository"
	"github.com/nimburion/docstore/pkg/store/memory"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func days(n int) *time.Time {
	t := now.AddDate(0, 0, n)
	return &t
}

func TestProjectRepository(t *testing.T) {
	ctx := context.Background()
	projects, err := NewProjectRepository(memory.NewAdapter(nil), WithClock(clock))
	require.NoError(t, err)
	defer projects.Close()

	id, err := projects.Create(ctx, &Project{Name: "Website", Status: ProjectPlanning, ManagerID: "m1", ClientID: "c1"})
	require.NoError(t, err)
	_, err = projects.Create(ctx, &Project{Name: "App", Status: ProjectActive, ManagerID: "m2"})
	require.NoError(t, err)

	byManager, err := projects.ByManager(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, byManager, 1)
	assert.Equal(t, "Website", byManager[0].Name)

	byClient, err := projects.ByClient(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, byClient, 1)

	active, err := projects.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "App", active[0].Name)

	t.Run("team members", func(t *testing.T) {
		require.NoError(t, projects.AddTeamMember(ctx, id, Member{UserID: "u1", Role: "developer", Allocation: 50}))
		require.NoError(t, projects.AddTeamMember(ctx, id, Member{UserID: "u2", Role: "designer", Allocation: 100}))
		require.NoError(t, projects.AddTeamMember(ctx, id, Member{UserID: "u1", Role: "lead", Allocation: 80}))

		p, err := projects.GetByID(ctx, id)
		require.NoError(t, err)
		require.Len(t, p.TeamMembers, 2)
		assert.Equal(t, "lead", p.TeamMembers[1].Role)
		assert.True(t, p.TeamMembers[0].JoinedAt.Equal(now))

		require.NoError(t, projects.RemoveTeamMember(ctx, id, "u2"))
		require.NoError(t, projects.RemoveTeamMember(ctx, id, "nobody"))
		p, err = projects.GetByID(ctx, id)
		require.NoError(t, err)
		require.Len(t, p.TeamMembers, 1)
		assert.Equal(t, "u1", p.TeamMembers[0].UserID)

		err = projects.AddTeamMember(ctx, id, Member{})
		assert.ErrorIs(t, err, repository.ErrEncode)
		err = projects.AddTeamMember(ctx, "missing", Member{UserID: "u1"})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("progress", func(t *testing.T) {
		require.NoError(t, projects.UpdateProgress(ctx, id, 40))
		p, err := projects.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 40, p.Progress)
		assert.Equal(t, ProjectActive, p.Status)

		require.NoError(t, projects.UpdateProgress(ctx, id, 100))
		p, err = projects.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ProjectCompleted, p.Status)

		assert.ErrorIs(t, projects.UpdateProgress(ctx, id, 101), repository.ErrEncode)
		assert.ErrorIs(t, projects.UpdateProgress(ctx, id, -1), repository.ErrEncode)
	})

	t.Run("milestones", func(t *testing.T) {
		mid, err := projects.AddMilestone(ctx, id, Milestone{Title: "Beta", DueDate: now.AddDate(0, 1, 0)})
		require.NoError(t, err)
		require.NotEmpty(t, mid)

		require.NoError(t, projects.CompleteMilestone(ctx, id, mid))
		p, err := projects.GetByID(ctx, id)
		require.NoError(t, err)
		require.Len(t, p.Milestones, 1)
		m := p.Milestones[0]
		assert.Equal(t, MilestoneCompleted, m.Status)
		require.NotNil(t, m.CompletedAt)
		assert.True(t, m.CompletedAt.Equal(now))
		assert.True(t, m.DueDate.Equal(now.AddDate(0, 1, 0)))

		err = projects.CompleteMilestone(ctx, id, "unknown")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestTaskRepository(t *testing.T) {
	ctx := context.Background()
	tasks, err := NewTaskRepository(memory.NewAdapter(nil), WithClock(clock))
	require.NoError(t, err)
	defer tasks.Close()

	seed := []Task{
		{Title: "late", Status: TaskTodo, ProjectID: "p1", AssigneeID: "u1", DueDate: days(-2)},
		{Title: "late but done", Status: TaskCompleted, ProjectID: "p1", DueDate: days(-5)},
		{Title: "soon", Status: TaskInProgress, ProjectID: "p1", AssigneeID: "u1", DueDate: days(2)},
		{Title: "later", Status: TaskTodo, ProjectID: "p2", DueDate: days(10)},
		{Title: "undated", Status: TaskTodo, ProjectID: "p2"},
	}
	ids := make(map[string]string)
	for i := range seed {
		id, err := tasks.Create(ctx, &seed[i])
		require.NoError(t, err)
		ids[seed[i].Title] = id
	}

	titles := func(items []Task) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.Title
		}
		return out
	}

	overdue, err := tasks.Overdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, titles(overdue))

	soon, err := tasks.DueSoon(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"soon"}, titles(soon))

	_, err = tasks.DueSoon(ctx, -1)
	assert.ErrorIs(t, err, repository.ErrEncode)

	byProject, err := tasks.ByProject(ctx, "p2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"later", "undated"}, titles(byProject))

	byAssignee, err := tasks.ByAssignee(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"late", "soon"}, titles(byAssignee))

	t.Run("status", func(t *testing.T) {
		id := ids["soon"]
		require.NoError(t, tasks.UpdateStatus(ctx, id, TaskCompleted))
		got, err := tasks.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(now))

		done, err := tasks.ByStatus(ctx, TaskCompleted)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"late but done", "soon"}, titles(done))

		require.NoError(t, tasks.UpdateStatus(ctx, id, TaskInProgress))
		got, err = tasks.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("comments and watchers", func(t *testing.T) {
		id := ids["later"]
		cid, err := tasks.AddComment(ctx, id, Comment{Content: "looks good", AuthorID: "u2"})
		require.NoError(t, err)
		_, err = tasks.AddComment(ctx, id, Comment{AuthorID: "u2"})
		assert.ErrorIs(t, err, repository.ErrEncode)

		require.NoError(t, tasks.AddWatcher(ctx, id, "u1"))
		require.NoError(t, tasks.AddWatcher(ctx, id, "u1"))
		require.NoError(t, tasks.AddWatcher(ctx, id, "u3"))
		require.NoError(t, tasks.RemoveWatcher(ctx, id, "u3"))

		got, err := tasks.GetByID(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Comments, 1)
		assert.Equal(t, cid, got.Comments[0].ID)
		assert.True(t, got.Comments[0].CreatedAt.Equal(now))
		assert.Equal(t, []string{"u1"}, got.Watchers)
	})
}

func TestTicketClientUserRepositories(t *testing.T) {
	ctx := context.Background()
	adapter := memory.NewAdapter(nil)

	tickets, err := NewTicketRepository(adapter)
	require.NoError(t, err)
	for _, tk := range []Ticket{
		{Title: "crash", Status: TicketOpen, Priority: PriorityUrgent},
		{Title: "typo", Status: TicketResolved, Priority: PriorityLow},
		{Title: "slow", Status: TicketOpen, Priority: PriorityLow},
	} {
		_, err := tickets.Create(ctx, &tk)
		require.NoError(t, err)
	}
	open, err := tickets.Open(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
	low, err := tickets.ByPriority(ctx, PriorityLow)
	require.NoError(t, err)
	assert.Len(t, low, 2)

	clients, err := NewClientRepository(adapter)
	require.NoError(t, err)
	for i, name := range []string{"Acme", "Globex", "Initech"} {
		created := now.Add(time.Duration(i) * time.Hour)
		_, err := clients.Create(ctx, &Client{Name: name, Status: "active", CreatedAt: created})
		require.NoError(t, err)
	}
	recent, err := clients.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Initech", recent[0].Name)
	assert.Equal(t, "Globex", recent[1].Name)
	_, err = clients.Recent(ctx, 0)
	assert.ErrorIs(t, err, repository.ErrInvalidQuery)
	byStatus, err := clients.ByStatus(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, "Acme", byStatus[0].Name)

	users, err := NewUserRepository(adapter)
	require.NoError(t, err)
	_, err = users.Create(ctx, &User{Name: "Bea", Role: "developer", Status: "active"})
	require.NoError(t, err)
	_, err = users.Create(ctx, &User{Name: "Al", Role: "developer", Status: "inactive"})
	require.NoError(t, err)
	devs, err := users.ByRole(ctx, "developer")
	require.NoError(t, err)
	require.Len(t, devs, 2)
	assert.Equal(t, "Al", devs[0].Name)
	activeUsers, err := users.Active(ctx)
	require.NoError(t, err)
	require.Len(t, activeUsers, 1)
	assert.Equal(t, "Bea", activeUsers[0].Name)
}

func TestInvoiceRepository(t *testing.T) {
	ctx := context.Background()
	invoices, err := NewInvoiceRepository(memory.NewAdapter(nil), WithClock(clock))
	require.NoError(t, err)

	for _, inv := range []Invoice{
		{Number: "1", ClientID: "c1", Status: InvoiceSent, Total: 100, DueDate: *days(-1)},
		{Number: "2", ClientID: "c1", Status: InvoiceOverdue, Total: 50.5, DueDate: *days(-30)},
		{Number: "3", ClientID: "c2", Status: InvoicePaid, Total: 999, DueDate: *days(-3)},
		{Number: "4", ClientID: "c2", Status: InvoiceSent, Total: 10, DueDate: *days(7)},
		{Number: "5", ClientID: "c2", Status: InvoiceDraft, Total: 7, DueDate: *days(-7)},
	} {
		_, err := invoices.Create(ctx, &inv)
		require.NoError(t, err)
	}

	overdue, err := invoices.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, "2", overdue[0].Number)
	assert.Equal(t, "1", overdue[1].Number)

	total, err := invoices.Outstanding(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 160.5, total, 1e-9)

	c2, err := invoices.ByClient(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, c2, 3)
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nimburion/docstore/pkg/entity"
	"github.com/nimburion/docstore/pkg/repository"
)

// workspaceReport summarises the project workspace collections.
type workspaceReport struct {
	ActiveProjects int     `json:"activeProjects" yaml:"activeProjects"`
	OverdueTasks   int     `json:"overdueTasks" yaml:"overdueTasks"`
	DueSoonTasks   int     `json:"dueSoonTasks" yaml:"dueSoonTasks"`
	OpenTickets    int     `json:"openTickets" yaml:"openTickets"`
	ActiveUsers    int     `json:"activeUsers" yaml:"activeUsers"`
	Outstanding    float64 `json:"outstanding" yaml:"outstanding"`
}

func buildReport(ctx context.Context, rt *runtime, dueSoonDays int) (*workspaceReport, error) {
	opts := []entity.Option{entity.WithRepositoryOptions(
		repository.WithLogger(rt.log),
		repository.WithSystem(rt.system),
		repository.WithBus(rt.bus),
	)}

	projects, err := entity.NewProjectRepository(rt.adapter, opts...)
	if err != nil {
		return nil, err
	}
	tasks, err := entity.NewTaskRepository(rt.adapter, opts...)
	if err != nil {
		return nil, err
	}
	tickets, err := entity.NewTicketRepository(rt.adapter, opts...)
	if err != nil {
		return nil, err
	}
	users, err := entity.NewUserRepository(rt.adapter, opts...)
	if err != nil {
		return nil, err
	}
	invoices, err := entity.NewInvoiceRepository(rt.adapter, opts...)
	if err != nil {
		return nil, err
	}

	var report workspaceReport
	active, err := projects.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("active projects: %w", err)
	}
	report.ActiveProjects = len(active)

	overdue, err := tasks.Overdue(ctx)
	if err != nil {
		return nil, fmt.Errorf("overdue tasks: %w", err)
	}
	report.OverdueTasks = len(overdue)

	dueSoon, err := tasks.DueSoon(ctx, dueSoonDays)
	if err != nil {
		return nil, fmt.Errorf("tasks due soon: %w", err)
	}
	report.DueSoonTasks = len(dueSoon)

	open, err := tickets.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tickets: %w", err)
	}
	report.OpenTickets = len(open)

	activeUsers, err := users.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	report.ActiveUsers = len(activeUsers)

	if report.Outstanding, err = invoices.Outstanding(ctx); err != nil {
		return nil, fmt.Errorf("outstanding invoices: %w", err)
	}
	return &report, nil
}

func newReportCommand(run runtimeFunc, output *string) *cobra.Command {
	var dueSoonDays int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise projects, tasks, tickets, users and invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				report, err := buildReport(ctx, rt, dueSoonDays)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), *output, report)
			})
		},
	}
	cmd.Flags().IntVar(&dueSoonDays, "due-soon-days", 7, "window for tasks due soon")
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}

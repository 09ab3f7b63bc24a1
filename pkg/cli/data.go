package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nimburion/docstore/pkg/document"
	"github.com/nimburion/docstore/pkg/observability/tracing"
	"github.com/nimburion/docstore/pkg/pagination"
	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/store"
)

// runtimeFunc loads configuration, opens the store and runs fn.
type runtimeFunc func(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error

func newGetCommand(run runtimeFunc, output *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Read one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, id := args[0], args[1]
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				var doc document.Document
				err := rt.traced(ctx, "get", tracing.SpanOperationDBGet, collection, id, func(ctx context.Context) error {
					var err error
					doc, err = rt.adapter.Get(ctx, collection, id)
					return err
				})
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%s/%s: not found", collection, id)
				}
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), *output, doc.Plain())
			})
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}

func addQueryFlags(cmd *cobra.Command, f *queryFlags, withLimit bool) {
	cmd.Flags().StringArrayVarP(&f.where, "where", "w", nil, "filter as field:op:value (repeatable)")
	cmd.Flags().StringArrayVarP(&f.order, "order", "o", nil, "order as field[:asc|desc] (repeatable)")
	if withLimit {
		cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of documents")
	}
}

func newQueryCommand(run runtimeFunc, output *string) *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "List the documents matching filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			opts, err := flags.options()
			if err != nil {
				return err
			}
			q, err := query.Build(opts)
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				var docs []document.Document
				err := rt.traced(ctx, "query", tracing.SpanOperationDBQuery, collection, "", func(ctx context.Context) error {
					var err error
					docs, err = rt.adapter.Find(ctx, collection, q)
					return err
				})
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), *output, records(docs))
			})
		},
	}
	addQueryFlags(cmd, &flags, true)
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}

func newCountCommand(run runtimeFunc, output *string) *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "count <collection>",
		Short: "Count the documents matching filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			opts, err := flags.options()
			if err != nil {
				return err
			}
			q, err := query.Build(opts)
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				var n int64
				err := rt.traced(ctx, "count", tracing.SpanOperationDBCount, collection, "", func(ctx context.Context) error {
					var err error
					n, err = pagination.Count(ctx, rt.adapter, collection, q, rt.log)
					return err
				})
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), *output, map[string]any{"collection": collection, "count": n})
			})
		},
	}
	addQueryFlags(cmd, &flags, false)
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}

func newPageCommand(run runtimeFunc, output *string) *cobra.Command {
	var (
		flags  queryFlags
		size   int
		cursor string
		number int
	)
	cmd := &cobra.Command{
		Use:   "page <collection>",
		Short: "Read one page of an ordered query",
		Long: "Read one page of an ordered query. With --cursor (or no paging flag) the page is\n" +
			"cursor based and prints the cursor of the next page. With --number the page is\n" +
			"offset based and prints exact totals.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			opts, err := flags.options()
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				if size <= 0 {
					size = rt.cfg.Pagination.DefaultPageSize
				}
				if number > 0 {
					var page *pagination.NumberedPage
					err := rt.traced(ctx, "page_number", tracing.SpanOperationDBQuery, collection, "", func(ctx context.Context) error {
						var err error
						page, err = rt.engine.PageNumber(ctx, collection, opts, number, size)
						return err
					})
					if err != nil {
						return err
					}
					return writeOutput(cmd.OutOrStdout(), *output, map[string]any{
						"documents":  records(page.Documents),
						"page":       page.Page,
						"pageSize":   page.PageSize,
						"total":      page.Total,
						"totalPages": page.TotalPages,
						"hasNext":    page.HasNext,
						"hasPrev":    page.HasPrev,
					})
				}

				var page *pagination.Page
				err := rt.traced(ctx, "page", tracing.SpanOperationDBQuery, collection, "", func(ctx context.Context) error {
					var err error
					page, err = rt.engine.Page(ctx, collection, opts, size, cursor)
					return err
				})
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), *output, map[string]any{
					"documents":  records(page.Documents),
					"hasNext":    page.HasNext,
					"nextCursor": page.NextCursor,
				})
			})
		},
	}
	addQueryFlags(cmd, &flags, false)
	cmd.Flags().IntVar(&size, "size", 0, "page size (default pagination.default_page_size)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor returned by the previous page")
	cmd.Flags().IntVar(&number, "number", 0, "1-based page number (offset paging)")
	cmd.MarkFlagsMutuallyExclusive("cursor", "number")
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	return cmd
}

func newPutCommand(run runtimeFunc, output *string) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "put <collection> [id]",
		Short: "Create or replace a document",
		Long:  "Create or replace a document. Without an id the store assigns one.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			var id string
			if len(args) == 2 {
				id = args[1]
			}
			fields, err := parseFields(data)
			if err != nil {
				return err
			}
			delete(fields, "id")
			kind := store.ChangeUpdated
			if id == "" {
				kind = store.ChangeCreated
			}
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				err := rt.traced(ctx, "put", tracing.SpanOperationDBInsert, collection, id, func(ctx context.Context) error {
					var err error
					id, err = rt.adapter.Put(ctx, collection, id, fields)
					return err
				})
				if err != nil {
					return err
				}
				rt.publish(ctx, collection, id, kind)
				return writeOutput(cmd.OutOrStdout(), *output, document.Document{ID: id, Fields: fields}.Plain())
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "document fields as a JSON or YAML object")
	_ = cmd.MarkFlagRequired("data")
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	return cmd
}

func newDeleteCommand(run runtimeFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, id := args[0], args[1]
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				err := rt.traced(ctx, "delete", tracing.SpanOperationDBDelete, collection, id, func(ctx context.Context) error {
					return rt.adapter.Delete(ctx, collection, id)
				})
				if err != nil {
					return err
				}
				rt.publish(ctx, collection, id, store.ChangeDeleted)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", collection, id)
				return nil
			})
		},
	}
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	return cmd
}

func newWatchCommand(run runtimeFunc, output *string) *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "watch <collection>",
		Short: "Print the matching documents every time they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			opts, err := flags.options()
			if err != nil {
				return err
			}
			q, err := query.Build(opts)
			if err != nil {
				return err
			}
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return rt.watch(ctx, collection, q, func(docs []document.Document) error {
					return writeOutput(cmd.OutOrStdout(), *output, records(docs))
				})
			})
		},
	}
	addQueryFlags(cmd, &flags, true)
	SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})
	return cmd
}

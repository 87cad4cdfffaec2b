package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"tx-tour/server/internal/model"
	"tx-tour/server/internal/transaction"
)

// NewListCommand 列出全部记录。
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all transactions",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.strictService()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			defer opts.flushMessages(p)

			items, err := svc.List(cmd.Context())
			if err != nil {
				return failure("list transactions", err)
			}
			return p.emit(transactionList(items))
		},
	}
}

// GetOptions 是 get 命令的 flag。
type GetOptions struct {
	*RootOptions
	Lenient bool
}

// NewGetCommand 按 id 查看单条记录。
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one transaction",
		Long: `Show one transaction.

By default the record is fetched by path and a missing id is a failure.
With --lenient the collection is filtered by id and a missing id is
reported without touching the failure path.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := opts.strictService()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			defer opts.flushMessages(p)

			var t *model.Transaction
			if opts.Lenient {
				t, err = svc.Lookup(cmd.Context(), id)
			} else {
				t, err = svc.Get(cmd.Context(), id)
			}
			if errors.Is(err, transaction.ErrNotFound) || (err == nil && t == nil) {
				return notFound(id)
			}
			if err != nil {
				return failure("get transaction", err)
			}
			return p.emit(transactionItem(*t))
		},
	}

	cmd.Flags().BoolVar(&opts.Lenient, "lenient", false, "look the id up through the collection filter")
	return cmd
}

// NewSearchCommand 按名称子串搜索。
func NewSearchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Find transactions whose name contains term",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.strictService()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			defer opts.flushMessages(p)

			items, err := svc.Search(cmd.Context(), args[0])
			if err != nil {
				return failure("search transactions", err)
			}
			return p.emit(transactionList(items))
		},
	}
}


// NewAddCommand 新建记录，名称去掉首尾空白后不能为空。
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a transaction",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return usageErr("name required", nil)
			}
			svc, err := opts.strictService()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			defer opts.flushMessages(p)

			created, err := svc.Add(cmd.Context(), model.Transaction{Name: name})
			if err != nil {
				return failure("add transaction", err)
			}
			return p.emit(actionResult{Action: "added", Transaction: *created})
		},
	}
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a transaction",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := opts.strictService()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			defer opts.flushMessages(p)

			if err := svc.Delete(cmd.Context(), transaction.ID(id)); err != nil {
				if errors.Is(err, transaction.ErrNotFound) {
					return notFound(id)
				}
				return failure("delete transaction", err)
			}
			return p.emit(actionResult{Action: "deleted", Transaction: model.Transaction{ID: id}})
		},
	}
}

func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id> <name>",
		Short: "Rename a transaction",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			name := strings.TrimSpace(args[1])
			if name == "" {
				return usageErr("name required", nil)
			}
			svc, err := opts.strictService()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			defer opts.flushMessages(p)

			t := model.Transaction{ID: id, Name: name}
			if err := svc.Update(cmd.Context(), t); err != nil {
				if errors.Is(err, transaction.ErrNotFound) {
					return notFound(id)
				}
				return failure("update transaction", err)
			}
			return p.emit(actionResult{Action: "updated", Transaction: t})
		},
	}
}

// NewChangesCommand 一次性回放 seq 大于 --since 的变更。
func NewChangesCommand(opts *RootOptions) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Replay the backend change feed",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if since < 0 {
				return usageErr("since must not be negative", nil)
			}
			svc, err := opts.strictService()
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			defer opts.flushMessages(p)

			events, err := svc.Changes(cmd.Context(), since)
			if err != nil {
				return failure("list changes", err)
			}
			return p.emit(changeList(events))
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only changes with a larger seq")
	return cmd
}

// NewWatchCommand 持续输出后端变更，直到 ctx 取消。
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream backend changes until interrupted",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamURL, err := transaction.StreamURL(opts.cfg.Client.BaseURL)
			if err != nil {
				return usageErr("stream url", err)
			}
			events, err := transaction.Watch(cmd.Context(), streamURL, nil)
			if err != nil {
				return failure("watch changes", err)
			}

			p := opts.printer(cmd)
			p.debugf("watching %s", streamURL)
			for evt := range events {
				if err := p.emit(changeLine(evt)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

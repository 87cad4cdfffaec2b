package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tx-tour/server/internal/model"
	"tx-tour/server/internal/transaction"
	"tx-tour/server/internal/views"
)

const shellPrompt = "txtour> "

const shellHelp = `commands:
  list               reload and show all transactions
  show               show the local list without reloading
  add <name>         create a transaction
  delete <id>        delete a transaction
  detail <id>        select a transaction for editing
  rename <name>      rename the selected transaction
  save               write the selected transaction back
  search <term>      live search, results print when ready
  watch              merge backend changes into the local list
  unwatch            stop merging backend changes
  messages           show the notification log
  stats              show store operation counts
  clear              clear the notification log
  quit               leave the shell`

// NewShellCommand 启动交互式会话，复用列表、详情与搜索三个视图。
func NewShellCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session over the list, detail and search views",
		Long: `Interactive session over the list, detail and search views.

Unlike the one-shot commands the shell uses the configured error policy,
so with the default "swallow" policy failures only show up in "messages".`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.service()
			if err != nil {
				return err
			}
			sh := newShell(svc, opts, cmd.OutOrStdout())
			defer sh.close()
			return sh.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// syncWriter 串行化命令循环与后台打印协程的输出。
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

type shell struct {
	svc    *transaction.Service
	opts   *RootOptions
	out    *syncWriter
	list   *views.ListView
	detail *views.DetailView

	search     *views.SearchView
	searchDone chan struct{}

	stopWatch func()
	watchDone chan struct{}
}

func newShell(svc *transaction.Service, opts *RootOptions, out io.Writer) *shell {
	return &shell{
		svc:    svc,
		opts:   opts,
		out:    &syncWriter{w: out},
		list:   views.NewListView(svc),
		detail: views.NewDetailView(svc),
	}
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		s.out.printf("%s", shellPrompt)
		if !scanner.Scan() {
			s.out.printf("\n")
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		if name == "quit" || name == "exit" {
			s.out.printf("bye\n")
			return nil
		}
		s.dispatch(ctx, name, arg)
	}
}

func (s *shell) dispatch(ctx context.Context, name, arg string) {
	switch name {
	case "help":
		s.out.printf("%s\n", shellHelp)

	case "list":
		if err := s.list.Load(ctx); err != nil {
			s.out.printf("error: %v\n", err)
			return
		}
		s.out.printf("%s\n", transactionList(s.list.Transactions()))

	case "show":
		s.out.printf("%s\n", transactionList(s.list.Transactions()))

	case "add":
		created, err := s.list.Add(ctx, arg)
		switch {
		case err != nil:
			s.out.printf("error: %v\n", err)
		case strings.TrimSpace(arg) == "":
			s.out.printf("name required\n")
		case created == nil:
			s.out.printf("not added\n")
		default:
			s.out.printf("%s\n", actionResult{Action: "added", Transaction: *created})
		}

	case "delete":
		id, err := parseID(arg)
		if err != nil {
			s.out.printf("%v\n", err)
			return
		}
		target := model.Transaction{ID: id}
		for _, t := range s.list.Transactions() {
			if t.ID == id {
				target = t
				break
			}
		}
		if err := s.list.Delete(ctx, target); err != nil {
			s.out.printf("error: %v\n", err)
			return
		}
		s.out.printf("deleted %d\n", id)

	case "detail":
		id, err := parseID(arg)
		if err != nil {
			s.out.printf("%v\n", err)
			return
		}
		if err := s.detail.Load(ctx, id); err != nil {
			s.out.printf("error: %v\n", err)
			return
		}
		if t := s.detail.Current(); t != nil {
			s.out.printf("%s\n", transactionItem(*t))
		} else {
			s.out.printf("transaction %d not found\n", id)
		}

	case "rename":
		if err := s.detail.Rename(arg); err != nil {
			s.out.printf("error: %v\n", err)
			return
		}
		s.out.printf("renamed to %s\n", s.detail.Current().Name)

	case "save":
		if err := s.detail.Save(ctx); err != nil {
			s.out.printf("error: %v\n", err)
			return
		}
		s.out.printf("saved %d\n", s.detail.Current().ID)

	case "search":
		s.startSearch()
		if err := s.search.Input(arg); err != nil {
			s.out.printf("error: %v\n", err)
		}

	case "watch":
		if err := s.startWatch(ctx); err != nil {
			s.out.printf("error: %v\n", err)
			return
		}
		s.out.printf("watching changes\n")

	case "unwatch":
		s.stopWatching()
		s.out.printf("stopped watching\n")

	case "stats":
		counts := s.opts.metrics.OperationCounts()
		if len(counts) == 0 {
			s.out.printf("(no operations)\n")
			return
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.out.printf("%s %v\n", k, counts[k])
		}

	case "messages":
		entries := s.opts.log.Messages()
		if len(entries) == 0 {
			s.out.printf("(no messages)\n")
			return
		}
		s.out.printf("%s\n", strings.Join(entries, "\n"))

	case "clear":
		s.opts.log.Clear()
		s.out.printf("messages cleared\n")

	default:
		s.out.printf("unknown command %q (try help)\n", name)
	}
}

// startSearch 首次搜索时才创建搜索视图与结果打印协程。
func (s *shell) startSearch() {
	if s.search != nil {
		return
	}
	s.search = views.NewSearchView(s.svc, views.DefaultDebounce, s.opts.logger.WithField("component", "search"))
	s.searchDone = make(chan struct{})
	go func() {
		defer close(s.searchDone)
		for items := range s.search.Results() {
			s.out.printf("\nsearch results:\n%s\n", transactionList(items))
		}
	}()
}

// startWatch 订阅变更流，每条变更合并进列表视图并打印。重复调用无副作用。
func (s *shell) startWatch(ctx context.Context) error {
	if s.stopWatch != nil {
		return nil
	}
	streamURL, err := transaction.StreamURL(s.opts.cfg.Client.BaseURL)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	events, err := transaction.Watch(wctx, streamURL, nil)
	if err != nil {
		cancel()
		return err
	}
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})
	go func() {
		defer close(s.watchDone)
		for evt := range events {
			s.list.Apply(evt)
			s.out.printf("\nchange: %s\n", changeLine(evt))
		}
	}()
	return nil
}

func (s *shell) stopWatching() {
	if s.stopWatch == nil {
		return
	}
	s.stopWatch()
	<-s.watchDone
	s.stopWatch = nil
}

func (s *shell) close() {
	s.stopWatching()
	if s.search == nil {
		return
	}
	s.search.Close()
	<-s.searchDone
}

package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tx-tour/server/internal/config"
	"tx-tour/server/internal/logging"
	"tx-tour/server/internal/messages"
	"tx-tour/server/internal/metrics"
	"tx-tour/server/internal/transaction"
)

// RootOptions 保存全局 flag 以及各子命令共享的运行期状态。
type RootOptions struct {
	ConfigPath string
	BaseURL    string
	Verbose    bool
	Format     string // json | text

	cfg     *config.Config
	logger  *logrus.Logger
	log     *messages.Log
	metrics *metrics.Metrics

	// serve 绑定端口后回调，测试用来拿到实际地址。
	onListen func(addr string)
}

var validFormats = []string{"text", "json"}

// NewRootCommand 创建 txtour 根命令。
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "txtour",
		Short:         "txtour - transactions CRUD tour",
		Long:          "Record store client and mock REST backend for the transactions tour.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return usageErr(fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats), nil)
			}
			return opts.setup()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config.yaml")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "backend base url (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print the notification log after each command")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErr("invalid flags", err)
	})

	cmd.AddCommand(
		NewServeCommand(opts),
		NewListCommand(opts),
		NewGetCommand(opts),
		NewSearchCommand(opts),
		NewAddCommand(opts),
		NewDeleteCommand(opts),
		NewUpdateCommand(opts),
		NewChangesCommand(opts),
		NewWatchCommand(opts),
		NewShellCommand(opts),
	)
	return cmd
}

// Execute 运行 CLI 并返回进程退出码。
// 错误在文本模式写 stderr，json 模式写 stdout，保证 stdout 始终可解析。
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	p := &printer{json: opts.Format == "json", out: stderr}
	if p.json {
		p.out = stdout
	}
	return p.report(err)
}

func (o *RootOptions) setup() error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return usageErr("load config", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv()
	}
	if o.BaseURL != "" {
		cfg.Client.BaseURL = o.BaseURL
	}
	if err := cfg.Validate(); err != nil {
		return usageErr("validate config", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return usageErr("init logging", err)
	}

	o.cfg = cfg
	o.logger = logger
	o.log = messages.NewLog(cfg.Messages.Capacity)
	o.metrics = metrics.New(prometheus.NewRegistry())
	return nil
}

// service 按配置的错误策略构造 Record Store，操作结果计入 o.metrics。
func (o *RootOptions) service() (*transaction.Service, error) {
	policy, err := transaction.ParsePolicy(o.cfg.Client.ErrorPolicy)
	if err != nil {
		return nil, usageErr("error policy", err)
	}
	client := &http.Client{Timeout: o.cfg.Client.Timeout}
	return transaction.NewService(
		transaction.NewHTTPTransport(o.cfg.Client.BaseURL, client),
		o.log,
		transaction.WithErrorPolicy(policy),
		transaction.WithLogger(o.logger.WithField("component", "store")),
		transaction.WithMetrics(o.metrics),
	), nil
}

// strictService 供一次性命令使用：失败必须体现为非零退出码。
func (o *RootOptions) strictService() (*transaction.Service, error) {
	svc, err := o.service()
	if err != nil {
		return nil, err
	}
	return svc.WithPolicy(transaction.Propagate), nil
}

func (o *RootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{
		json:    o.Format == "json",
		out:     cmd.OutOrStdout(),
		diag:    cmd.ErrOrStderr(),
		verbose: o.Verbose,
	}
}

// flushMessages 在 -v 模式下输出通知日志。
func (o *RootOptions) flushMessages(p *printer) {
	if o.log == nil {
		return
	}
	for _, m := range o.log.Messages() {
		p.debugf("%s", m)
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageErr("invalid arguments", err)
		}
		return nil
	}
}

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, usageErr(fmt.Sprintf("invalid id %q", raw), nil)
	}
	return id, nil
}

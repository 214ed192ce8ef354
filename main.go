package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/catalog"
	"github.com/mod-mirror/mod-mirror/internal/catalog/curseforge"
	"github.com/mod-mirror/mod-mirror/internal/catalog/modrinth"
	"github.com/mod-mirror/mod-mirror/internal/config"
	"github.com/mod-mirror/mod-mirror/internal/logging"
	"github.com/mod-mirror/mod-mirror/internal/queue"
	"github.com/mod-mirror/mod-mirror/internal/server"
	"github.com/mod-mirror/mod-mirror/internal/store"
	"github.com/mod-mirror/mod-mirror/internal/upstream"
	"github.com/mod-mirror/mod-mirror/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["database"] = cfg.Global.DatabasePath
		fields["workers"] = cfg.Queue.Workers
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储 → 队列/worker → dispatcher → Fiber server。
	// 所有组件共享同一个数据库句柄，生命周期由这里统一管理。
	db, err := store.Open(cfg.Global.DatabasePath)
	if err != nil {
		fmt.Fprintf(stdErr, "打开数据库失败: %v\n", err)
		return 1
	}

	cfStore := curseforge.NewStore(db)
	mrStore := modrinth.NewStore(db)
	tags := store.NewTagStore(db)
	q := queue.New(db, cfg.Queue)
	for _, migrate := range []func() error{
		cfStore.Migrate,
		mrStore.Migrate,
		func() error { return store.Migrate(db, &store.TagBlob{}) },
		q.Migrate,
	} {
		if err := migrate(); err != nil {
			fmt.Fprintf(stdErr, "迁移数据库失败: %v\n", err)
			return 1
		}
	}

	timeout := cfg.Global.UpstreamTimeout.DurationValue()
	cfClient := curseforge.NewClient(upstream.NewClient(cfg.Curseforge.API, timeout,
		map[string]string{"x-api-key": cfg.Curseforge.APIKey}))
	mrClient := modrinth.NewClient(upstream.NewClient(cfg.Modrinth.API, timeout, nil))

	worker := queue.NewWorker(q, logger)
	curseforge.NewSyncer(cfClient, db, tags, logger).Register(worker)
	modrinth.NewSyncer(mrClient, db, tags, logger).Register(worker)

	dispatcher := catalog.NewDispatcher(q, logger)
	worker.SetFinishHook(dispatcher.JobFinished)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	worker.Start(ctx)
	defer worker.Stop()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["workers"] = cfg.Queue.Workers
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, server.AppOptions{
		Logger:     logger,
		Config:     cfg,
		Dispatcher: dispatcher,
		Queue:      q,
		Curseforge: cfStore,
		Modrinth:   mrStore,
		Tags:       tags,
	}); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("mod-mirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MOD_MIRROR_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MOD_MIRROR_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, opts server.AppOptions) error {
	app, err := server.NewApp(opts)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	opts.Logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.Global.ListenPort,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", cfg.Global.ListenPort))
}

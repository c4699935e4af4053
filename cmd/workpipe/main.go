// Package main is the entry point for workpipe.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"workpipe/internal/api"
	"workpipe/internal/config"
	"workpipe/internal/logger"
	"workpipe/internal/pipeline"
)

var (
	version = "dev"
)

// options はコマンドラインで指定された値
type options struct {
	configFile string
	presetName string
	items      int
	workers    int
	transform  string
	logLevel   string
	logFormat  string
	serverAddr string

	// 明示的に指定されたフラグ名
	set map[string]bool
}

func main() {
	// フラグ定義
	var (
		opts        options
		listPresets = flag.Bool("list-presets", false, "利用可能なプリセットを表示")
		showVersion = flag.Bool("version", false, "バージョンを表示")
		serverMode  = flag.Bool("server", false, "API サーバーモードで起動")
	)
	flag.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&opts.presetName, "preset", "", "プリセット名 (quick, default, wide, stress, throttled)")
	flag.IntVar(&opts.items, "items", pipeline.DefaultConfig().MaxItems, "生成するアイテム数 (0 以上)")
	flag.IntVar(&opts.workers, "workers", pipeline.DefaultConfig().Workers, "ワーカー数 (1 以上)")
	flag.StringVar(&opts.transform, "transform", "", "変換関数 (double, square, identity)")
	flag.StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flag.StringVar(&opts.logFormat, "log-format", "", "ログ形式 (text, json)")
	flag.StringVar(&opts.serverAddr, "addr", ":8080", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `workpipe - single producer, multi worker pipeline

Usage:
  workpipe [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # 250 アイテムを 4 ワーカーで処理
  workpipe --items 250 --workers 4

  # プリセットを実行
  workpipe --preset quick

  # 設定ファイルから実行
  workpipe --config pipeline.yaml

  # API サーバーモードで起動
  workpipe --server --addr :3000
`)
	}

	flag.Parse()
	opts.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	// バージョン表示
	if *showVersion {
		fmt.Printf("workpipe version %s\n", version)
		return
	}

	// プリセット一覧表示
	if *listPresets {
		printPresets()
		return
	}

	// 設定の決定
	file, err := loadFile(opts.configFile)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}
	if err := configureLogger(logger.Default, file, opts); err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Debug("", format, args...)
	}))
	defer undo()
	if err != nil {
		logger.Warn("", "GOMAXPROCS の設定に失敗: %v", err)
	}

	// API サーバーモード
	if *serverMode {
		addr := opts.serverAddr
		if !opts.set["addr"] && file != nil && file.Server.Addr != "" {
			addr = file.Server.Addr
		}
		if err := runServer(addr); err != nil {
			logger.Error("", "サーバーエラー: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := buildPipelineConfig(file, opts)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	if err := runPipeline(cfg); err != nil {
		logger.Error("", "パイプライン実行エラー: %v", err)
		os.Exit(1)
	}
}

// loadFile は設定ファイルを読み込んで検証する（未指定なら nil）
func loadFile(path string) (*config.FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	fileConfig, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
	}
	if err := fileConfig.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return fileConfig, nil
}

// configureLogger はロガーを一度だけ設定する
func configureLogger(l *logger.Logger, file *config.FileConfig, opts options) error {
	var settings config.LogConfig
	if file != nil {
		settings = file.Log
	}
	if opts.logLevel != "" {
		settings.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		settings.Format = opts.logFormat
	}

	level, format, err := (&config.FileConfig{Log: settings}).LogSettings()
	if err != nil {
		return err
	}
	l.SetLevel(level)
	l.SetFormat(format)
	return nil
}

// buildPipelineConfig はパイプライン設定を構築する
func buildPipelineConfig(file *config.FileConfig, opts options) (pipeline.Config, error) {
	var cfg pipeline.Config

	if file != nil {
		// 1. 設定ファイルから読み込み
		var err error
		cfg, err = file.ToPipelineConfig()
		if err != nil {
			return cfg, fmt.Errorf("設定変換エラー: %w", err)
		}
	} else if opts.presetName != "" {
		// 2. プリセットから読み込み
		preset, ok := pipeline.GetPreset(opts.presetName)
		if !ok {
			return cfg, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", opts.presetName, pipeline.ListPresets())
		}
		cfg = preset
	} else {
		// 3. デフォルト
		cfg = pipeline.DefaultConfig()
	}

	// フラグが明示的に指定された場合のみオーバーライド
	if opts.set["items"] {
		cfg.MaxItems = opts.items
	}
	if opts.set["workers"] {
		cfg.Workers = opts.workers
	}
	if opts.transform != "" {
		cfg.Transform = opts.transform
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// runPipeline はパイプラインを実行する
func runPipeline(cfg pipeline.Config) error {
	logger.Info("", "workpipe - %s: %d items, %d workers, transform=%s, queue=%s, wait=%s",
		cfg.Name, cfg.MaxItems, cfg.Workers, cfg.Transform, cfg.QueueKind, cfg.Wait)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := pipeline.New(cfg)
	result, err := engine.Run(ctx)
	if result != nil {
		fmt.Println(result.Report())
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("中断されました: %w", err)
	}
	return err
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセット:")
	fmt.Println()

	for _, name := range pipeline.ListPresets() {
		cfg, _ := pipeline.GetPreset(name)
		fmt.Printf("  %-12s %s\n", name, cfg.Description)
	}

	fmt.Println()
	fmt.Println("使用例: workpipe --preset quick")
}

// runServer は API サーバーを起動する
func runServer(addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(addr)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

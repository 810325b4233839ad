package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "codeclean/internal/config"
	"codeclean/internal/diag"
	"codeclean/internal/pipeline"
	"codeclean/internal/report"
)

var pipelineRun = pipeline.Run

// 退出码
const (
	exitOK     = 0
	exitUsage  = 1
	exitConfig = 3
)

// exitError 携带退出码；由 RunE 返回，run 统一映射。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error { return &exitError{code: code, err: err} }

// cliFlags 命令行旗标；仅 Changed 的旗标参与覆盖。
type cliFlags struct {
	config       string
	noBackup     bool
	noVerbose    bool
	noHTML       bool
	noJS         bool
	noCSS        bool
	noEmpty      bool
	noTrim       bool
	noEnds       bool
	extensions   []string
	concurrency  int
	excludeDirs  []string
	exclude      []string
	backupSuffix string
	outDir       string
	logLevel     string
	logDir       string
	status       bool
	initDir      string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		fprintf(stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 旗标解析错误
	fprintf(stderr, "参数错误: %v\n", err)
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "codeclean <path>... [flags]",
		Short: "删除 .vue/.js/.ts/.jsx/.tsx 源码中的注释与多余空白",
		Long: `codeclean 递归处理给定的文件或目录：删除 HTML/JS/CSS 注释、空行、行尾空白与首尾空行。
默认在源文件旁写入 <文件名>.backup 备份后原地改写；"-" 表示从 STDIN 读取并写到 STDOUT。

配置优先级：命令行 > 环境变量（CODECLEAN_*，含 .env） > 配置文件（codeclean.yaml|yml|json） > 默认值。`,
		Example: `  codeclean src
  codeclean src/App.vue lib --no-backup
  codeclean . --extensions=.vue,.js --exclude-dir node_modules -j 8
  codeclean src --out-dir dist-clean --no-verbose
  cat a.js | codeclean -
  codeclean --init-config`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, f, args, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "配置文件路径（.yaml/.yml/.json）；缺省查找 $CODECLEAN_CONFIG_FILE 或工作目录下 codeclean.yaml")
	fs.BoolVar(&f.noBackup, "no-backup", false, "不创建备份文件")
	fs.BoolVar(&f.noVerbose, "no-verbose", false, "不输出逐文件过程与汇总")
	fs.BoolVar(&f.noHTML, "no-html-comments", false, "保留 <!-- --> 注释")
	fs.BoolVar(&f.noJS, "no-js-comments", false, "保留 // 与 /* */ 注释")
	fs.BoolVar(&f.noCSS, "no-css-comments", false, "保留 <style> 之后的注释")
	fs.BoolVar(&f.noEmpty, "no-empty-lines", false, "保留空行")
	fs.BoolVar(&f.noTrim, "no-trim-whitespace", false, "保留行尾空白")
	fs.BoolVar(&f.noEnds, "no-trim-ends", false, "保留文件首尾空行")
	fs.StringSliceVar(&f.extensions, "extensions", nil, "目录扫描处理的扩展名（逗号分隔，如 .vue,.js）")
	fs.IntVarP(&f.concurrency, "concurrency", "j", 0, "并发处理的文件数")
	fs.StringSliceVar(&f.excludeDirs, "exclude-dir", nil, "跳过的目录名（可重复）")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "glob 排除模式，匹配相对路径或基名（可重复）")
	fs.StringVar(&f.backupSuffix, "backup-suffix", "", "备份文件后缀（默认 .backup）")
	fs.StringVar(&f.outDir, "out-dir", "", "输出到该目录（保留相对层级），不改动源文件")
	fs.StringVar(&f.logLevel, "log-level", "", "结构化日志等级：debug|info|warn|error")
	fs.StringVar(&f.logDir, "log-dir", "", "结构化日志目录（按大小滚动）；为空时写 stderr")
	fs.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出")
	fs.StringVar(&f.initDir, "init-config", "", "在指定目录生成 codeclean.yaml 与 .env 模板（已存在则跳过）；不带值时为当前目录（--init-config=dir）")
	fs.Lookup("init-config").NoOptDefVal = "."
	fs.SortFlags = false
	return cmd
}

func execute(cmd *cobra.Command, f *cliFlags, args []string, stdout, stderr io.Writer) error {
	start := time.Now()
	corrID := diag.NewCorrID()

	// --init-config: 生成模板并退出
	if dir := strings.TrimSpace(f.initDir); dir != "" {
		if err := initConfig(dir, stdout); err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			return fail(exitConfig, err)
		}
		return nil
	}

	cfg, err := loadConfig(cmd.Flags(), f, args)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		return fail(exitConfig, err)
	}

	// 基本校验
	if err := cfgpkg.Validate(cfg); err != nil {
		if errors.Is(err, cfgpkg.ErrNoInputs) {
			fprintf(stderr, "请指定要处理的文件或目录路径\n\n")
			_ = cmd.Usage()
			return fail(exitUsage, err)
		}
		fprintf(stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(stderr, cfg)
		return fail(exitConfig, err)
	}

	logger := newLogger(cfg, corrID)
	defer func() { _ = logger.Close() }()

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "assemble", &start)
		return fail(exitConfig, err)
	}
	set.Stdout = stdout

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, f.status, cfg.VerboseEnabled())
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", "", map[string]string{
		"inputs_count": fmt.Sprintf("%d", len(cfg.Inputs)),
		"concurrency":  fmt.Sprintf("%d", cfg.Concurrency),
		"backup":       fmt.Sprintf("%t", comp.Backup != nil),
		"out_dir":      cfg.OutDir,
		"reader":       cfg.Components.Reader,
		"writer":       cfg.Components.Writer,
		"stages":       stagesText(cfg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := logger.Start("pipeline", "run")
	rep, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		return fail(exitUsage, err)
	}
	t.Finish("run", int64(rep.Considered))

	if cfg.VerboseEnabled() {
		// STDIN 模式下 STDOUT 承载结果，汇总改写到 stderr
		w := stdout
		if len(set.Inputs) == 1 && set.Inputs[0] == "-" {
			w = stderr
		}
		printReport(w, rep)
	}
	return nil
}

// loadConfig 按 默认值 < 配置文件 < ENV < CLI 合并。
func loadConfig(fs *pflag.FlagSet, f *cliFlags, args []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	cwd, err := os.Getwd()
	if err != nil {
		return cfg, err
	}
	path, err := cfgpkg.Discover(f.config, cwd, os.Environ())
	if err != nil {
		return cfg, err
	}
	if path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	return cfgpkg.Merge(cfg, cliOverlay(fs, f, args)), nil
}

// cliOverlay 仅收集显式给出的旗标。
func cliOverlay(fs *pflag.FlagSet, f *cliFlags, args []string) cfgpkg.Config {
	var over cfgpkg.Config
	if len(args) > 0 {
		over.Inputs = args
	}
	changed := fs.Changed
	if changed("no-backup") {
		over.Backup = cfgpkg.Bool(!f.noBackup)
	}
	if changed("no-verbose") {
		over.Verbose = cfgpkg.Bool(!f.noVerbose)
	}
	stage := func(name string, off bool) *bool {
		if !changed(name) {
			return nil
		}
		return cfgpkg.Bool(!off)
	}
	over.Stages = cfgpkg.Stages{
		RemoveMarkupComments:   stage("no-html-comments", f.noHTML),
		RemoveScriptComments:   stage("no-js-comments", f.noJS),
		RemoveStyleComments:    stage("no-css-comments", f.noCSS),
		RemoveEmptyLines:       stage("no-empty-lines", f.noEmpty),
		TrimTrailingWhitespace: stage("no-trim-whitespace", f.noTrim),
		TrimFileEnds:           stage("no-trim-ends", f.noEnds),
	}
	if changed("extensions") {
		over.Extensions = f.extensions
	}
	if changed("concurrency") {
		over.Concurrency = f.concurrency
	}
	if changed("exclude-dir") {
		over.ExcludeDirs = f.excludeDirs
	}
	if changed("exclude") {
		over.Exclude = f.exclude
	}
	over.BackupSuffix = f.backupSuffix
	over.OutDir = f.outDir
	over.Logging = cfgpkg.Logging{Level: f.logLevel, Dir: f.logDir}
	return over
}

// newLogger: 配置了目录写滚动文件；仅配置等级写 stderr；都未配置时丢弃。
func newLogger(cfg cfgpkg.Config, corrID string) *diag.Logger {
	level := strings.TrimSpace(cfg.Logging.Level)
	dir := strings.TrimSpace(cfg.Logging.Dir)
	if dir == "" && level == "" {
		return diag.NewLoggerTo(io.Discard, corrID, "")
	}
	return diag.NewLogger(corrID, level, dir)
}

func printReport(w io.Writer, rep report.Report) {
	if rep.Considered > 0 {
		rep.Render(w)
		if failed := rep.Failed(); len(failed) > 0 {
			fprintf(w, "\n失败文件:\n")
			report.Report{Files: failed}.RenderFiles(w)
		}
	}
	fprintf(w, "\n🎉 %s\n", rep.Summary())
}

func stagesText(cfg cfgpkg.Config) string {
	b, err := json.Marshal(cfg.StageConfig())
	if err != nil {
		return ""
	}
	return string(b)
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	fprintf(w, "有效配置:\n%s\n", b)
	return nil
}

// initConfig 在 dir 下生成 codeclean.yaml 与 .env 模板；已存在的文件跳过，不覆盖。
func initConfig(dir string, stdout io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	y, err := cfgpkg.TemplateYAML()
	if err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		body []byte
	}{
		{"codeclean.yaml", y},
		{".env", []byte(cfgpkg.DotEnvTemplate())},
	} {
		p := filepath.Join(dir, f.name)
		created, err := writeExclusive(p, f.body)
		if err != nil {
			return err
		}
		if created {
			fprintf(stdout, "已生成 %s\n", p)
		} else {
			fprintf(stdout, "已存在，跳过 %s\n", p)
		}
	}
	return nil
}

// writeExclusive 仅在文件不存在时创建并写入。
func writeExclusive(path string, b []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return false, err
	}
	return true, nil
}

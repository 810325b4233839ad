package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codeclean/internal/diag"
	"codeclean/internal/report"
	"codeclean/internal/transform"
	"codeclean/pkg/contract"
)

// - 单点并发：仅此层管理并发；Reader/Backup/Transformer/Writer 均为同步实现。
// - 文件间相互独立：单个文件失败只记入报告，不影响其他文件，也不改变 Run 的返回值。
// - 同一文件串行：重叠的根（含相对与绝对写法）可能两次产出同一文件，按 lockKey 互斥执行。
// - 备份先于写入：备份失败则该文件不写入。

// Components 聚合运行所需的组件。
type Components struct {
	Reader contract.Reader
	// Backup 为 nil 表示不备份。
	Backup contract.Backup
	// Transformer 为 nil 时按 Settings.Stages 为每个文件构造（带阶段日志）。
	Transformer contract.Transformer
	Writer      contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs      []string
	Concurrency int
	Stages      transform.StageConfig
	// Stdout: STDIN 输入的结果写到这里；nil 为 os.Stdout。
	Stdout io.Writer
}

// Run 执行：Reader.Iterate → (每文件) 读取 → 备份 → 改写 → 写出。
// 仅在取消或 Reader 级错误（如 '-' 与其他根混用）时返回错误；报告总是返回。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (report.Report, error) {
	if err := sanity(comp, &set); err != nil {
		return report.Report{}, fmt.Errorf("sanity: %w", err)
	}
	runStart := time.Now()
	term := diag.GetTerminal()
	term.RunStart(set.Concurrency, set.Inputs)

	var (
		col   report.Collector
		locks = newKeyedMutex()
		out   = &lockedWriter{w: set.Stdout}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(set.Concurrency)

	rtimer := logger.Start("reader", "iterate")
	var files int64
	iterErr := comp.Reader.Iterate(gctx, set.Inputs, func(src contract.Source) error {
		if src.Err != nil {
			// 不存在的路径/不可读目录：诊断后跳过，不计数
			logger.Warn("reader", "skip", string(src.ID), map[string]string{"err": src.Err.Error()})
			diag.IncOp("reader", "skip", "error")
			term.Skip(src.Path, src.Err)
			return nil
		}
		files++
		// SetLimit 满时阻塞，形成背压
		g.Go(func() error {
			unlock := locks.Lock(lockKey(src))
			defer unlock()
			col.Add(processFile(gctx, comp, set, src, out, logger))
			return nil
		})
		return nil
	})
	_ = g.Wait()
	if iterErr != nil {
		diag.Fail(logger, "reader", "iterate failed", "", rtimer.Since(), iterErr)
	} else {
		rtimer.Finish("iterate", files)
		diag.IncOp("reader", "finish", "success")
	}

	rep := col.Report()
	term.RunFinish(rep.Succeeded, rep.Considered, time.Since(runStart))
	logger.InfoFinish("pipeline", rep.Summary(), runStart, int64(rep.Succeeded))
	diag.LogSnapshot(logger)

	if iterErr != nil {
		return rep, fmt.Errorf("reader iterate: %w", iterErr)
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// processFile 处理单个文件；任何失败都体现在返回的 FileResult 中。
func processFile(ctx context.Context, comp Components, set Settings, src contract.Source, stdout io.Writer, logger *diag.Logger) report.FileResult {
	t0 := time.Now()
	res := report.FileResult{ID: src.ID, Root: src.Root, Path: src.Path}
	term := diag.GetTerminal()
	fid := string(src.ID)
	fail := func(step, component, what string, since *time.Time, err error) report.FileResult {
		diag.Fail(logger, component, step+" failed", fid, since, err)
		term.FileFail(src.Path, what, err)
		res.Step, res.Err, res.Duration = step, err, time.Since(t0)
		return res
	}

	// 读取
	rtimer := logger.StartWith("reader", "read", fid)
	data, err := readAll(ctx, comp.Reader, src)
	if err != nil {
		return fail("read", "reader", "读取失败", rtimer.Since(), err)
	}
	rtimer.Finish("read", int64(len(data)))
	diag.IncOp("reader", "finish", "success")
	res.BytesBefore = len(data)
	term.FileStart(src.Path, len(data))

	// 备份：必须先于写入完成；STDIN 不备份
	if comp.Backup != nil && !src.IsStdin() {
		btimer := logger.StartWith("backup", "backup", fid)
		if err := comp.Backup.Backup(ctx, src, data); err != nil {
			return fail("backup", "backup", "备份失败", btimer.Since(), err)
		}
		btimer.Finish("backup", int64(len(data)))
		diag.IncOp("backup", "finish", "success")
		if p, ok := comp.Backup.(interface{ PathFor(contract.Source) string }); ok {
			term.Backup(src.Path, p.PathFor(src))
		}
	}

	// 改写（纯函数，不失败）
	tr := comp.Transformer
	if tr == nil {
		tr = transform.New(set.Stages, func(stage string, before, after int) {
			logger.DebugStart("transform", "stage", fid, map[string]string{
				"stage":  stage,
				"before": fmt.Sprintf("%d", before),
				"after":  fmt.Sprintf("%d", after),
			})
			term.Stage(src.Path, stage, before, after)
		})
	}
	outText := tr.Transform(string(data))
	diag.IncOp("transform", "finish", "success")

	// 写出
	wtimer := logger.StartWith("writer", "write", fid)
	if src.IsStdin() {
		_, err = io.WriteString(stdout, outText)
	} else {
		err = comp.Writer.Write(ctx, src, strings.NewReader(outText))
	}
	if err != nil {
		return fail("write", "writer", "写入失败", wtimer.Since(), err)
	}
	wtimer.Finish("write", int64(len(outText)))
	diag.IncOp("writer", "finish", "success")

	res.OK = true
	res.BytesAfter = len(outText)
	res.Duration = time.Since(t0)
	term.FileFinish(src.Path, res.BytesBefore, res.BytesAfter, res.Duration)
	return res
}

func readAll(ctx context.Context, r contract.Reader, src contract.Source) ([]byte, error) {
	rc, err := r.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func sanity(c Components, s *Settings) error {
	if c.Reader == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.Stdout == nil {
		s.Stdout = os.Stdout
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}

// lockedWriter 串行化 STDOUT 写入。
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

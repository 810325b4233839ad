package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"codeclean/internal/diag"
	"codeclean/pkg/contract"
)

// FileResult 为单个文件的处理结果。
type FileResult struct {
	ID   contract.FileID
	Root string
	Path string
	OK   bool
	// Step: 失败发生的步骤（read|backup|write）；成功时为空。
	Step        string
	Err         error
	BytesBefore int
	BytesAfter  int
	Duration    time.Duration
}

// DirStat 为目录（含子目录）内文件的汇总。
type DirStat struct {
	Dir         string
	Considered  int
	Succeeded   int
	BytesBefore int64
	BytesAfter  int64
}

// Report 为一次运行的汇总。计数与调度顺序无关。
type Report struct {
	Considered  int
	Succeeded   int
	BytesBefore int64
	BytesAfter  int64
	Files       []FileResult
	Dirs        []DirStat
}

// Collector 并发安全地收集 FileResult。
type Collector struct {
	mu    sync.Mutex
	files []FileResult
}

// Add 记录一个结果。
func (c *Collector) Add(r FileResult) {
	c.mu.Lock()
	c.files = append(c.files, r)
	c.mu.Unlock()
}

// Report 汇总已收集的结果；Files 按 ID 稳定排序，Dirs 按路径排序。
func (c *Collector) Report() Report {
	c.mu.Lock()
	files := make([]FileResult, len(c.files))
	copy(files, c.files)
	c.mu.Unlock()
	return Build(files)
}

// Build 由结果列表计算汇总。
func Build(files []FileResult) Report {
	sort.SliceStable(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	rep := Report{Files: files}
	dirs := map[string]*DirStat{}
	for _, f := range files {
		rep.Considered++
		if f.OK {
			rep.Succeeded++
			rep.BytesBefore += int64(f.BytesBefore)
			rep.BytesAfter += int64(f.BytesAfter)
		}
		for _, d := range ancestors(f.Root, f.Path) {
			st := dirs[d]
			if st == nil {
				st = &DirStat{Dir: d}
				dirs[d] = st
			}
			st.Considered++
			if f.OK {
				st.Succeeded++
				st.BytesBefore += int64(f.BytesBefore)
				st.BytesAfter += int64(f.BytesAfter)
			}
		}
	}
	for _, st := range dirs {
		rep.Dirs = append(rep.Dirs, *st)
	}
	sort.Slice(rep.Dirs, func(i, j int) bool { return rep.Dirs[i].Dir < rep.Dirs[j].Dir })
	return rep
}

// ancestors 返回 path 所在目录直至 root（含）的全部目录。
// 单文件 root 与 STDIN 不归属任何目录。
func ancestors(root, path string) []string {
	if root == "" || root == "-" || root == path {
		return nil
	}
	root = filepath.Clean(root)
	var out []string
	for d := filepath.Dir(path); ; d = filepath.Dir(d) {
		out = append(out, d)
		if d == root {
			return out
		}
		rel, err := filepath.Rel(root, d)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			// d 不在 root 之下：仅记录直接父目录
			return out[:1]
		}
	}
}

// Failed 返回失败的结果。
func (r Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}

// Summary 返回最终一行总览。
func (r Report) Summary() string {
	return fmt.Sprintf("处理完成! 成功处理 %d/%d 个文件", r.Succeeded, r.Considered)
}

// Render 以表格输出按目录的汇总与合计。
func (r Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Directory", "Succeeded", "Considered", "Before", "After", "Saved"})
	for _, d := range r.Dirs {
		t.AppendRow(table.Row{
			d.Dir,
			d.Succeeded,
			d.Considered,
			humanBytes(d.BytesBefore),
			humanBytes(d.BytesAfter),
			diag.SavedPercent(int(d.BytesBefore), int(d.BytesAfter)),
		})
	}
	t.AppendFooter(table.Row{
		"Total",
		r.Succeeded,
		r.Considered,
		humanBytes(r.BytesBefore),
		humanBytes(r.BytesAfter),
		diag.SavedPercent(int(r.BytesBefore), int(r.BytesAfter)),
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 6, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	t.SetStyle(style)
	t.Render()
}

// RenderFiles 以表格输出逐文件结果。
func (r Report) RenderFiles(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"File", "Result", "Before", "After", "Saved"})
	for _, f := range r.Files {
		res := "ok"
		if !f.OK {
			res = "fail(" + f.Step + ")"
		}
		t.AppendRow(table.Row{f.Path, res, f.BytesBefore, f.BytesAfter, diag.SavedPercent(f.BytesBefore, f.BytesAfter)})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	style.Format.Header = text.FormatDefault
	t.SetStyle(style)
	t.Render()
}

func humanBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.2f KB", float64(n)/1024)
}

package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - 失败与总览总是输出；逐文件与逐阶段细节仅 verbose。
// - TTY 且非 verbose 时以单行 \r 覆盖显示累计进度。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	verbose bool
	isTTY   bool

	concurrency int
	filesDone   int
	filesFailed int
	runStart    time.Time

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	active *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); active = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return active }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled, verbose bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled, verbose: verbose}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = term.IsTerminal(int(f.Fd()))
		}
	}
	return t
}

// Verbose 报告是否输出逐文件细节。
func (t *Terminal) Verbose() bool { return t != nil && t.enabled && t.verbose }

// RunStart: 记录运行上下文。
func (t *Terminal) RunStart(concurrency int, roots []string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.filesDone, t.filesFailed = 0, 0
	t.runStart = time.Now()
	if t.verbose {
		t.println(fmt.Sprintf("[run] 并发=%d | 路径=%s", concurrency, safe(strings.Join(roots, ", "))))
	}
}

// FileStart: 开始处理文件（verbose）。
func (t *Terminal) FileStart(path string, size int) {
	if !t.Verbose() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(fmt.Sprintf("[file] %s | 大小 %s", safe(path), formatKB(size)))
}

// Stage: 单个阶段完成（verbose）。
func (t *Terminal) Stage(path, stage string, before, after int) {
	if !t.Verbose() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(fmt.Sprintf("  [stage] %s | %s | %d → %d 字节", safe(path), stage, before, after))
}

// Backup: 已写出备份（verbose）。
func (t *Terminal) Backup(path, backupPath string) {
	if !t.Verbose() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(fmt.Sprintf("  [backup] %s → %s", safe(path), safe(backupPath)))
}

// FileFinish: 文件处理成功。
func (t *Terminal) FileFinish(path string, before, after int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	if t.verbose {
		t.println(fmt.Sprintf("[done] %s | %s → %s | 节省 %s (%s) | 用时 %s",
			safe(path), formatKB(before), formatKB(after), formatKB(before-after), SavedPercent(before, after), formatDur(dur)))
		return
	}
	t.progress()
}

// FileFail: 文件处理失败（总是输出）。
func (t *Terminal) FileFail(path, what string, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	t.filesFailed++
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[fail] %s | %s: %s", safe(path), what, safe(errText(err))))
}

// Skip: 不计数的跳过（不存在的路径、不可读目录），总是输出。
func (t *Terminal) Skip(path string, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[skip] %s | %s", safe(path), safe(errText(err))))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(succeeded, considered int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	tag := "ok"
	if succeeded != considered {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] 全部完成 | 成功 %d/%d | 总用时 %s", tag, succeeded, considered, formatDur(dur)))
}

// progress: TTY 下节流（100ms）刷新累计进度。
func (t *Terminal) progress() {
	if !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[run] 已处理 %d | 失败 %d | 并发 %d | 用时 %s",
		t.filesDone, t.filesFailed, t.concurrency, formatSince(t.runStart)))
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SavedPercent 返回节省比例（保留两位小数）；before 为 0 时为 0.00%。
func SavedPercent(before, after int) string {
	if before <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(before-after)*100/float64(before))
}

func formatKB(n int) string { return fmt.Sprintf("%.2f KB", float64(n)/1024) }

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	// 秒，保留 1 位小数
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}

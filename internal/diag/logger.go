package diag

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 级别定义
type Level = slog.Level

const (
	Debug = slog.LevelDebug
	Info  = slog.LevelInfo
	Warn  = slog.LevelWarn
	Error = slog.LevelError
)

// Logger 为结构化事件日志器：单行 JSON（slog），写入轮转文件或 stderr。
// 事件字段：ts level msg corr_id comp stage [code dur_ms count file_id kv]。
type Logger struct {
	corrID string
	level  Level
	sl     *slog.Logger
	sink   io.Closer
}

// NewCorrID 生成一次运行的关联 ID。
func NewCorrID() string { return uuid.NewString() }

// NewLogger 按 level 初始化；dir 非空时写入 dir 下的轮转文件（10MiB），否则写 stderr。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		return NewLoggerTo(os.Stderr, corrID, level)
	}
	sink := newLogFile(dir, logFileMaxMB)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写到任意 io.Writer。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	lvl := parseLevel(strings.TrimSpace(level))
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replaceAttr,
	})
	return &Logger{corrID: corrID, level: lvl, sl: slog.New(h).With("corr_id", corrID)}
}

// replaceAttr: time→ts（RFC3339 UTC），level 小写。
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339))
	case slog.LevelKey:
		return slog.String("level", strings.ToLower(a.Value.String()))
	}
	return a
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// ValidLevel 报告 s 是否为可识别的日志级别（空串视为 info）。
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

// CorrID 返回本次运行的关联 ID。
func (l *Logger) CorrID() string { return l.corrID }

// Enabled 报告给定级别是否输出。
func (l *Logger) Enabled(lv Level) bool { return lv >= l.level }

// Close 关闭文件 sink（stderr 时为 no-op）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// event 为标准事件结构。
type event struct {
	comp   string
	stage  string // start|finish|error|skip
	code   string
	dur    time.Duration
	count  int64
	fileID string
	kv     map[string]string
}

func (l *Logger) log(lv Level, msg string, ev event) {
	if l == nil || !l.Enabled(lv) {
		return
	}
	attrs := make([]slog.Attr, 0, 7)
	attrs = append(attrs, slog.String("comp", ev.comp), slog.String("stage", ev.stage))
	if ev.code != "" {
		attrs = append(attrs, slog.String("code", ev.code))
	}
	if ev.dur > 0 {
		attrs = append(attrs, slog.Int64("dur_ms", ev.dur.Milliseconds()))
	}
	if ev.count != 0 {
		attrs = append(attrs, slog.Int64("count", ev.count))
	}
	if ev.fileID != "" {
		attrs = append(attrs, slog.String("file_id", ev.fileID))
	}
	if len(ev.kv) > 0 {
		attrs = append(attrs, slog.Any("kv", ev.kv))
	}
	l.sl.LogAttrs(context.Background(), lv, msg, attrs...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, msg, event{comp: comp, stage: "start"})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	l.log(Info, msg, event{comp: comp, stage: "start", fileID: fileID})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// StartWithKV 记录带 file_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID string, kv map[string]string) *Timer {
	l.log(Info, msg, event{comp: comp, stage: "start", fileID: fileID, kv: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", nil)
}

// ErrorWith 支持 file_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, nil)
}

// ErrorWithKV 支持附带键值对（例如底层错误文本）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID string, kv map[string]string) {
	var dur time.Duration
	if durSince != nil {
		dur = time.Since(*durSince)
	}
	l.log(Error, msg, event{comp: comp, stage: "error", code: code, dur: dur, fileID: fileID, kv: kv})
}

// Warn 记录被跳过但不计为失败的情况（如不存在的根）。
func (l *Logger) Warn(comp, msg, fileID string, kv map[string]string) {
	l.log(Warn, msg, event{comp: comp, stage: "skip", fileID: fileID, kv: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, msg, event{comp: comp, stage: "finish", dur: time.Since(start), count: count})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID string, kv map[string]string) {
	l.log(Debug, msg, event{comp: comp, stage: "start", fileID: fileID, kv: kv})
}

// DebugFinish 输出调试级别的 finish 类事件。
func (l *Logger) DebugFinish(comp, msg, fileID string, kv map[string]string) {
	l.log(Debug, msg, event{comp: comp, stage: "finish", fileID: fileID, kv: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	d := time.Since(t.t0)
	t.l.log(Info, msg, event{comp: t.comp, stage: "finish", dur: d, count: count, fileID: t.fileID})
	ObserveDuration(t.comp, msg, d.Milliseconds())
}

// Since 返回计时起点。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

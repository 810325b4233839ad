package diag

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"

	"codeclean/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeBackup    Code = "backup"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	// 备份失败（内层可能是 I/O 错误，以备份为准）
	if errors.Is(err, contract.ErrBackupFailed) {
		return CodeBackup
	}
	// 不变量
	if errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrStdinMixed) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	// I/O
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var lerr *os.LinkError
	if errors.As(err, &lerr) {
		return CodeIO
	}
	var serr *os.SyscallError
	if errors.As(err, &serr) {
		return CodeIO
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return CodeIO
	}
	return CodeUnknown
}

// Fail 记录一次组件失败：error 日志 + 计数。logger 可为 nil。
func Fail(logger *Logger, comp, msg, fileID string, since *time.Time, err error) Code {
	code := Classify(err)
	if logger != nil {
		logger.ErrorWithKV(comp, string(code), msg, since, fileID, map[string]string{"err": err.Error()})
	}
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}

package contract

import "errors"

// 最小错误分类（errors.Is 判定）。
var (
	// ErrPathInvalid: 目标路径无效或越界（例如输出目录外的 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrStdinMixed: "-" 与其他根混用。
	ErrStdinMixed = errors.New("stdin '-' cannot be mixed with other roots")
	// ErrBackupFailed: 备份未完成，原文件不得被覆盖。
	ErrBackupFailed = errors.New("backup failed")
	// ErrInvalidInput: 参数/选项不合法。
	ErrInvalidInput = errors.New("invalid input")
)

package diag

import (
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 文件日志：
// - 当前文件固定名 codeclean.log，位于 logging.dir；
// - 超过 maxMB 后轮转为 codeclean-<UTC 时间戳>.log，再新建当前文件；
// - 目录不存在时首次写入创建。
const (
	logFileName  = "codeclean.log"
	logFileMaxMB = 10
)

func newLogFile(dir string, maxMB int) *lumberjack.Logger {
	if maxMB <= 0 {
		maxMB = logFileMaxMB
	}
	return &lumberjack.Logger{
		Filename: filepath.Join(dir, logFileName),
		MaxSize:  maxMB,
	}
}

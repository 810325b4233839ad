package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	// 先统一反斜杠，再按 POSIX 语义清理
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

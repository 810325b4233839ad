package contract

import "context"

// Backup: 在破坏性写入前保存原始内容。
// 约束：必须在同一 Source 的 Writer.Write 开始前完成；失败时编排层跳过该文件。
type Backup interface {
	Backup(ctx context.Context, src Source, original []byte) error
}

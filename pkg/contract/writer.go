package contract

import (
	"context"
	"io"
)

// Writer: 将清理结果持久化（原地覆盖或输出目录）。
// 约束：
//  1. 同一 Source 单写者（由编排层串行化）；
//  2. 按字节透传，不读取/修改内容；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, src Source, r io.Reader) error
}

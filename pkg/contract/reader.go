package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/目录/STDIN）。
// 约束：
// 1) 按稳定顺序逐文件回调，不在内部起并发；
// 2) 单个路径的枚举失败通过 Source.Err 上报，不中断其余根；
// 3) 仅在 ctx 取消、yield 返回错误或参数非法时返回错误；
// 4) 不做解码/业务解析。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(src Source) error) error
	// Open 打开 Source 对应的字节流；调用方负责 Close。
	Open(ctx context.Context, src Source) (io.ReadCloser, error)
}

package sibling

import (
	"context"
	"fmt"
	"os"
	"strings"

	"codeclean/pkg/contract"
)

// DefaultSuffix: 备份文件后缀。
const DefaultSuffix = ".backup"

// Options 为 sibling Backup 的可选配置。
type Options struct {
	// Suffix: 备份路径 = 原路径 + Suffix。默认 ".backup"。
	Suffix string `json:"suffix,omitempty"`
	// PermFile: 无法获取原文件权限时使用；为 0 取 0o644。
	PermFile os.FileMode `json:"perm_file,omitempty"`
}

// Sibling 将原始字节写到源文件旁的同名 + 后缀文件，已存在时覆盖。
type Sibling struct {
	suffix string
	permF  os.FileMode
}

var _ contract.Backup = (*Sibling)(nil)

// New 创建 Sibling；后缀不得为空白或包含路径分隔符。
func New(opts *Options) (*Sibling, error) {
	if opts == nil {
		opts = &Options{}
	}
	suf := opts.Suffix
	if suf == "" {
		suf = DefaultSuffix
	}
	if strings.TrimSpace(suf) == "" || strings.ContainsAny(suf, `/\`) {
		return nil, fmt.Errorf("%w: backup suffix %q", contract.ErrInvalidInput, suf)
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	return &Sibling{suffix: suf, permF: pf}, nil
}

// PathFor 返回 src 对应的备份路径。
func (b *Sibling) PathFor(src contract.Source) string { return src.Path + b.suffix }

// Backup 写出原始字节；任何失败都包装为 ErrBackupFailed。
func (b *Sibling) Backup(ctx context.Context, src contract.Source, original []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if src.IsStdin() || src.Path == "" {
		return fmt.Errorf("%w: %w", contract.ErrBackupFailed, contract.ErrPathInvalid)
	}
	perm := b.permF
	if fi, err := os.Stat(src.Path); err == nil {
		perm = fi.Mode().Perm()
	}
	dest := b.PathFor(src)
	if err := os.WriteFile(dest, original, perm); err != nil {
		return fmt.Errorf("%w: %s: %w", contract.ErrBackupFailed, dest, err)
	}
	// WriteFile 不修改已存在文件的权限
	if err := os.Chmod(dest, perm); err != nil {
		return fmt.Errorf("%w: %s: %w", contract.ErrBackupFailed, dest, err)
	}
	return nil
}

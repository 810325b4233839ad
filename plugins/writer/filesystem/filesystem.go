package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"codeclean/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录；为空表示原地改写源文件。
	OutputDir string `json:"output_dir,omitempty"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 目标不存在且无法取得源文件权限时使用；为 0 表示实现默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer 实现。opts 可为 nil（原地 + 原子写）。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{root: strings.TrimSpace(opts.OutputDir), atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

var _ contract.Writer = (*FS)(nil)

// InPlace 报告是否原地改写。
func (w *FS) InPlace() bool { return w.root == "" }

// Write 将 r 的全部字节写入 src 映射出的目标路径。
func (w *FS) Write(ctx context.Context, src contract.Source, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dest, err := w.mapPath(src)
	if err != nil {
		return err
	}
	perm := w.targetPerm(src, dest)
	if !w.InPlace() {
		if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
			return err
		}
	}

	if w.atomic {
		return w.writeAtomic(ctx, dest, perm, r)
	}
	return w.writeOverwrite(ctx, dest, perm, r)
}

// mapPath: 原地写返回源路径；否则取相对 root 的路径，Clean + Join + 越界校验。
func (w *FS) mapPath(src contract.Source) (string, error) {
	if src.IsStdin() || strings.TrimSpace(src.Path) == "" {
		return "", contract.ErrPathInvalid
	}
	if w.InPlace() {
		return src.Path, nil
	}
	rel := filepath.Base(src.Path)
	if src.Root != "" && src.Root != src.Path {
		r, err := filepath.Rel(src.Root, src.Path)
		if err != nil {
			return "", contract.ErrPathInvalid
		}
		rel = r
	}
	return w.join(rel)
}

// join: 禁止绝对路径、父级逃逸、Windows 卷名。
func (w *FS) join(rel string) (string, error) {
	rel = filepath.Clean(rel)
	if rel == "." || rel == "" {
		return "", contract.ErrPathInvalid
	}
	if filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// targetPerm: 优先沿用目标已有权限，其次源文件权限，最后默认值。
func (w *FS) targetPerm(src contract.Source, dest string) os.FileMode {
	if fi, err := os.Stat(dest); err == nil {
		return fi.Mode().Perm()
	}
	if fi, err := os.Stat(src.Path); err == nil {
		return fi.Mode().Perm()
	}
	return w.permF
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, perm os.FileMode, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	// 确保及时关闭
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, perm os.FileMode, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// CreateTemp 固定 0600，改为目标权限
	_ = os.Chmod(tmpPath, perm)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		_ = bw.Flush()
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}

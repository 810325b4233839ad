package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"codeclean/pkg/contract"
)

// DefaultExtensions: 目录扫描时默认处理的扩展名。
var DefaultExtensions = []string{".vue", ".js", ".ts", ".jsx", ".tsx"}

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
	// Extensions: 目录扫描时允许的扩展名（大小写不敏感，缺省前导点自动补齐）。
	// 为空使用 DefaultExtensions。仅影响目录递归，不影响单文件 root。
	Extensions []string `json:"extensions,omitempty"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配）。
	// 例如 [".git","node_modules","vendor"]。
	ExcludeDirNames []string `json:"exclude_dir_names,omitempty"`
	// Exclude: glob 模式（gobwas/glob，'/' 为分隔符），匹配相对 root 的路径或基名即跳过。
	Exclude []string `json:"exclude,omitempty"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize int
	exts    map[string]struct{}
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
	exclude    []glob.Glob
}

var _ contract.Reader = (*FileSystem)(nil)

// New 创建 FileSystem Reader；glob 模式非法时返回错误。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	if opts == nil {
		opts = &Options{}
	}
	b := defaultBuf
	if opts.BufSize > 0 {
		b = opts.BufSize
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	em := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if e = NormalizeExtension(e); e != "" {
			em[e] = struct{}{}
		}
	}
	ex := make(map[string]struct{})
	for _, name := range opts.ExcludeDirNames {
		if name = strings.Trim(strings.TrimSpace(name), `/\`); name != "" {
			ex[strings.ToLower(name)] = struct{}{}
		}
	}
	globs := make([]glob.Glob, 0, len(opts.Exclude))
	for _, p := range opts.Exclude {
		if strings.TrimSpace(p) == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: exclude pattern %q: %v", contract.ErrInvalidInput, p, err)
		}
		globs = append(globs, g)
	}
	return &FileSystem{bufSize: b, exts: em, excludeDir: ex, exclude: globs}, nil
}

// NormalizeExtension 统一扩展名为小写且带前导点；空串返回空串。
func NormalizeExtension(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e == "" {
		return ""
	}
	if !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}

// Iterate 遍历 roots，按稳定顺序对每个待处理文件调用 yield。
// roots 为空或仅包含 "-" 时产出 STDIN。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(contract.Source) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.Source{ID: contract.StdinID, Path: "-", Root: "-"})
	}
	// 禁止与其他根混用 "-"
	for _, s := range roots {
		if s == "-" {
			return contract.ErrStdinMixed
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.Source) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return yield(contract.Source{ID: contract.NormalizeFileID(root), Path: root, Root: root, Err: err})
	}
	// 符号链接：指向常规文件则按单文件处理；指向目录则不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return yield(contract.Source{ID: contract.NormalizeFileID(root), Path: root, Root: root, Err: err})
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return yield(contract.Source{ID: contract.NormalizeFileID(root), Path: root, Root: root})
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, root, yield)
	}
	if !info.Mode().IsRegular() { // 跳过非常规文件
		return nil
	}
	// 显式指定的单文件不做扩展名过滤
	return yield(contract.Source{ID: contract.NormalizeFileID(root), Path: root, Root: root})
}

func (r *FileSystem) walkDir(ctx context.Context, root, dir string, yield func(contract.Source) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		// 目录不可读：上报后继续其余目录
		return yield(contract.Source{ID: contract.NormalizeFileID(dir), Path: dir, Root: root, Err: err})
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if r.excluded(root, p) {
			continue
		}
		if err := r.walkDir(ctx, root, p, yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接；目录符号链接忽略）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		if _, ok := r.exts[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if r.excluded(root, p) {
			continue
		}
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				if err := yield(contract.Source{ID: contract.NormalizeFileID(p), Path: p, Root: root, Err: err}); err != nil {
					return err
				}
				continue
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备、管道等跳过
			continue
		}
		if err := yield(contract.Source{ID: contract.NormalizeFileID(p), Path: p, Root: root}); err != nil {
			return err
		}
	}
	return nil
}

// excluded: 相对 root 的路径或基名命中任一 glob 即排除。
func (r *FileSystem) excluded(root, p string) bool {
	if len(r.exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		rel = p
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(p)
	for _, g := range r.exclude {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

// Open 打开 Source；STDIN 以 bufio 封装且 Close 不关闭 os.Stdin。
func (r *FileSystem) Open(ctx context.Context, src contract.Source) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.Err != nil {
		return nil, src.Err
	}
	if src.IsStdin() {
		return newBufferedCloser(io.NopCloser(os.Stdin), r.bufSize), nil
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, err
	}
	return newBufferedCloser(f, r.bufSize), nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }

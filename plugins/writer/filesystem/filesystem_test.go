package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codeclean/pkg/contract"
)

func srcFile(t *testing.T, root, rel, content string) contract.Source {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return contract.Source{ID: contract.NormalizeFileID(p), Path: p, Root: root}
}

func noTmpLeft(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

// TestWriteInPlaceAtomic 原地原子改写
func TestWriteInPlaceAtomic(t *testing.T) {
	dir := t.TempDir()
	src := srcFile(t, dir, "a.js", "x // c")
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !w.InPlace() {
		t.Fatalf("expect in-place writer")
	}
	if err := w.Write(context.Background(), src, bytes.NewBufferString("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(src.Path)
	if err != nil || string(b) != "x" {
		t.Fatalf("unexpected file %v %q", err, string(b))
	}
	noTmpLeft(t, dir)
}

// TestWriteOutputDirMirror 输出目录下保留相对 root 的层级
func TestWriteOutputDirMirror(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	src := srcFile(t, in, filepath.Join("sub", "a.vue"), "orig")
	w, _ := New(&Options{OutputDir: out})
	if err := w.Write(context.Background(), src, bytes.NewBufferString("new")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(out, "sub", "a.vue"))
	if err != nil || string(b) != "new" {
		t.Fatalf("unexpected mirrored file %v %q", err, string(b))
	}
	// 源文件保持不变
	if b, _ := os.ReadFile(src.Path); string(b) != "orig" {
		t.Fatalf("source modified: %q", string(b))
	}
}

// TestWriteOutputDirSingleFile 单文件 root 只保留文件名
func TestWriteOutputDirSingleFile(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	src := srcFile(t, in, "one.ts", "v")
	src.Root = src.Path
	w, _ := New(&Options{OutputDir: out})
	if err := w.Write(context.Background(), src, bytes.NewBufferString("w")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "one.ts")); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

// 当目标已存在时，Atomic 写应替换为新内容（跨平台）。
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	src := srcFile(t, dir, "out.js", "v0")
	w, _ := New(nil)
	for _, v := range []string{"v1", "v2"} {
		if err := w.Write(context.Background(), src, bytes.NewBufferString(v)); err != nil {
			t.Fatalf("write %s: %v", v, err)
		}
	}
	b, err := os.ReadFile(src.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "v2" {
		t.Fatalf("expect replaced content v2, got %q", string(b))
	}
	noTmpLeft(t, dir)
}

// TestWriteNonAtomic 非原子写入
func TestWriteNonAtomic(t *testing.T) {
	dir := t.TempDir()
	src := srcFile(t, dir, "a.js", "longer original")
	a := false
	w, _ := New(&Options{Atomic: &a})
	if err := w.Write(context.Background(), src, bytes.NewBufferString("v")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b, _ := os.ReadFile(src.Path); string(b) != "v" {
		t.Fatalf("expect truncated overwrite, got %q", string(b))
	}
}

// TestWritePathInvalid STDIN 与空路径不可写
func TestWritePathInvalid(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	for _, src := range []contract.Source{
		{ID: contract.StdinID, Path: "-", Root: "-"},
		{},
	} {
		if err := w.Write(context.Background(), src, bytes.NewBufferString("x")); err != contract.ErrPathInvalid {
			t.Fatalf("src %+v expect path invalid, got %v", src, err)
		}
	}
}

// TestJoinInvalid 越界校验
func TestJoinInvalid(t *testing.T) {
	w, _ := New(&Options{OutputDir: t.TempDir()})
	cases := []string{"..", ".", "", filepath.Join("..", "x"), filepath.Join("a", "..", "..", "b")}
	for _, rel := range cases {
		if _, err := w.join(rel); err != contract.ErrPathInvalid {
			t.Fatalf("rel %q expect invalid, got %v", rel, err)
		}
	}
	if p, err := w.join(filepath.Join("a", "..", "b")); err != nil || filepath.Base(p) != "b" {
		t.Fatalf("expect cleaned join, got %q %v", p, err)
	}
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	dir := t.TempDir()
	src := srcFile(t, dir, "a.js", "keep")
	w, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, src, strings.NewReader("data")); err == nil {
		t.Fatalf("expect ctx error")
	}
	if b, _ := os.ReadFile(src.Path); string(b) != "keep" {
		t.Fatalf("file changed on cancel: %q", string(b))
	}
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 原子写入时拷贝失败，原文件与目录保持原样
func TestWriteAtomicCopyError(t *testing.T) {
	dir := t.TempDir()
	src := srcFile(t, dir, "a.js", "keep")
	w, _ := New(nil)
	if err := w.Write(context.Background(), src, errReader{}); err == nil {
		t.Fatalf("expect copy error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left %v", entries)
	}
	if b, _ := os.ReadFile(src.Path); string(b) != "keep" {
		t.Fatalf("file changed on failure: %q", string(b))
	}
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err == nil {
		t.Fatalf("expect ctx error")
	}
}

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeclean/internal/diag"
	"codeclean/internal/transform"
	"codeclean/pkg/contract"
	bsib "codeclean/plugins/backup/sibling"
	rfs "codeclean/plugins/reader/filesystem"
	wfs "codeclean/plugins/writer/filesystem"
)

const dirty = "<!-- c -->\n<script>\n  var a = 1; // x\n</script>\n\n"

func fsComponents(t *testing.T, backup bool) Components {
	t.Helper()
	r, err := rfs.New(nil)
	require.NoError(t, err)
	w, err := wfs.New(nil)
	require.NoError(t, err)
	comp := Components{Reader: r, Writer: w}
	if backup {
		b, err := bsib.New(nil)
		require.NoError(t, err)
		comp.Backup = b
	}
	return comp
}

func seed(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func read(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func settings(inputs ...string) Settings {
	return Settings{Inputs: inputs, Concurrency: 4, Stages: transform.DefaultStages()}
}

func TestRunDirectoryWithBackup(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{
		"a.vue":         dirty,
		"sub/b.js":      "x // y\n",
		"sub/deep/c.ts": "/* only */",
		"notes.md":      "<!-- untouched -->",
		"sub/skip.css":  "/* untouched */",
	})

	rep, err := Run(context.Background(), fsComponents(t, true), settings(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Considered)
	assert.Equal(t, 3, rep.Succeeded)

	assert.Equal(t, "<script>\n  var a = 1;\n</script>", read(t, filepath.Join(root, "a.vue")))
	assert.Equal(t, dirty, read(t, filepath.Join(root, "a.vue.backup")))
	assert.Equal(t, "x", read(t, filepath.Join(root, "sub", "b.js")))
	assert.Equal(t, "", read(t, filepath.Join(root, "sub", "deep", "c.ts")))
	assert.Equal(t, "<!-- untouched -->", read(t, filepath.Join(root, "notes.md")))

	dirs := map[string][2]int{}
	for _, d := range rep.Dirs {
		dirs[d.Dir] = [2]int{d.Succeeded, d.Considered}
	}
	assert.Equal(t, [2]int{3, 3}, dirs[root])
	assert.Equal(t, [2]int{2, 2}, dirs[filepath.Join(root, "sub")])
	assert.Equal(t, [2]int{1, 1}, dirs[filepath.Join(root, "sub", "deep")])
}

func TestRunNoBackup(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.js": "a // b"})
	rep, err := Run(context.Background(), fsComponents(t, false), settings(root), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	_, err = os.Stat(filepath.Join(root, "a.js.backup"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunStagesDisabledIsPassThrough(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.vue": dirty})
	set := settings(root)
	set.Stages = transform.StageConfig{}
	_, err := Run(context.Background(), fsComponents(t, false), set, nil)
	require.NoError(t, err)
	assert.Equal(t, dirty, read(t, filepath.Join(root, "a.vue")))
}

func TestRunExplicitFileIgnoresExtension(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"page.html": "<p>a</p><!-- b -->\n"})
	rep, err := Run(context.Background(), fsComponents(t, false), settings(filepath.Join(root, "page.html")), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Empty(t, rep.Dirs)
	assert.Equal(t, "<p>a</p>", read(t, filepath.Join(root, "page.html")))
}

func TestRunMissingRootNotCounted(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.js": "a"})
	rep, err := Run(context.Background(), fsComponents(t, false), settings(filepath.Join(root, "missing"), root), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Considered)
	assert.Equal(t, 1, rep.Succeeded)
}

func TestRunDashMixed(t *testing.T) {
	_, err := Run(context.Background(), fsComponents(t, false), settings("-", "a"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrStdinMixed)
}

func TestRunSanity(t *testing.T) {
	_, err := Run(context.Background(), Components{}, settings("a"), nil)
	assert.Error(t, err)
	_, err = Run(context.Background(), fsComponents(t, false), Settings{}, nil)
	assert.Error(t, err)
}

// 桩件 ----------------------------------------------------

type memReader struct {
	srcs    []contract.Source
	data    map[contract.FileID]string
	openErr map[contract.FileID]error
}

func (m *memReader) Iterate(ctx context.Context, roots []string, yield func(contract.Source) error) error {
	for _, s := range m.srcs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := yield(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *memReader) Open(ctx context.Context, src contract.Source) (io.ReadCloser, error) {
	if err := m.openErr[src.ID]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(m.data[src.ID])), nil
}

type memWriter struct {
	mu       sync.Mutex
	out      map[contract.FileID][]string
	fail     map[contract.FileID]error
	inflight map[contract.FileID]int
	overlap  atomic.Bool
	delay    time.Duration
}

func newMemWriter() *memWriter {
	return &memWriter{out: map[contract.FileID][]string{}, fail: map[contract.FileID]error{}, inflight: map[contract.FileID]int{}}
}

func (w *memWriter) Write(ctx context.Context, src contract.Source, r io.Reader) error {
	w.mu.Lock()
	w.inflight[src.ID]++
	if w.inflight[src.ID] > 1 {
		w.overlap.Store(true)
	}
	err := w.fail[src.ID]
	w.mu.Unlock()
	time.Sleep(w.delay)
	b, _ := io.ReadAll(r)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[src.ID]--
	if err != nil {
		return err
	}
	w.out[src.ID] = append(w.out[src.ID], string(b))
	return nil
}

type memBackup struct {
	mu    sync.Mutex
	saved map[contract.FileID]string
	fail  map[contract.FileID]bool
}

func (b *memBackup) Backup(ctx context.Context, src contract.Source, original []byte) error {
	if b.fail[src.ID] {
		return fmt.Errorf("%w: disk full", contract.ErrBackupFailed)
	}
	b.mu.Lock()
	b.saved[src.ID] = string(original)
	b.mu.Unlock()
	return nil
}

func source(id string) contract.Source {
	return contract.Source{ID: contract.FileID(id), Path: id, Root: "r"}
}

func TestRunFailuresAreIsolated(t *testing.T) {
	r := &memReader{
		srcs: []contract.Source{source("r/ok.js"), source("r/unreadable.js"), source("r/nobackup.js"), source("r/nowrite.js")},
		data: map[contract.FileID]string{
			"r/ok.js": "a // x", "r/nobackup.js": "b", "r/nowrite.js": "c",
		},
		openErr: map[contract.FileID]error{"r/unreadable.js": &os.PathError{Op: "open", Path: "r/unreadable.js", Err: os.ErrPermission}},
	}
	w := newMemWriter()
	w.fail["r/nowrite.js"] = errors.New("read-only")
	b := &memBackup{saved: map[contract.FileID]string{}, fail: map[contract.FileID]bool{"r/nobackup.js": true}}

	diag.ResetMetrics()
	rep, err := Run(context.Background(), Components{Reader: r, Writer: w, Backup: b}, settings("r"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Considered)
	assert.Equal(t, 1, rep.Succeeded)

	steps := map[contract.FileID]string{}
	for _, f := range rep.Failed() {
		steps[f.ID] = f.Step
	}
	assert.Equal(t, map[contract.FileID]string{
		"r/unreadable.js": "read",
		"r/nobackup.js":   "backup",
		"r/nowrite.js":    "write",
	}, steps)

	// 备份失败的文件不得写出
	_, written := w.out["r/nobackup.js"]
	assert.False(t, written)
	assert.Equal(t, []string{"a"}, w.out["r/ok.js"])
	assert.Equal(t, "a // x", b.saved["r/ok.js"])

	codes := map[string]int64{}
	for _, m := range diag.Snapshot() {
		codes[m.Name] = m.Value
	}
	assert.Equal(t, int64(1), codes["codeclean_error_total{code=backup,comp=backup}"])
	assert.Equal(t, int64(1), codes["codeclean_error_total{code=io,comp=reader}"])
}

func TestRunSamePathSerialized(t *testing.T) {
	srcs := make([]contract.Source, 0, 8)
	data := map[contract.FileID]string{}
	for i := 0; i < 8; i++ {
		s := source("r/dup.js")
		if i%2 == 1 {
			s = source(fmt.Sprintf("r/f%d.js", i))
		}
		srcs = append(srcs, s)
		data[s.ID] = "x"
	}
	w := newMemWriter()
	w.delay = 5 * time.Millisecond
	rep, err := Run(context.Background(), Components{Reader: &memReader{srcs: srcs, data: data}, Writer: w}, settings("r"), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, rep.Considered)
	assert.Equal(t, 8, rep.Succeeded)
	assert.Len(t, w.out["r/dup.js"], 4)
	assert.False(t, w.overlap.Load(), "same path written concurrently")
}

// slowBackup 记录每个物理文件的并发进入数。
type slowBackup struct {
	mu       sync.Mutex
	inflight map[string]int
	calls    map[string]int
	overlap  atomic.Bool
	delay    time.Duration
}

func (b *slowBackup) Backup(ctx context.Context, src contract.Source, original []byte) error {
	key, err := filepath.Abs(src.Path)
	if err != nil {
		return err
	}
	if real, err := filepath.EvalSymlinks(key); err == nil {
		key = real
	}
	b.mu.Lock()
	b.inflight[key]++
	b.calls[key]++
	if b.inflight[key] > 1 {
		b.overlap.Store(true)
	}
	b.mu.Unlock()
	time.Sleep(b.delay)
	b.mu.Lock()
	b.inflight[key]--
	b.mu.Unlock()
	return nil
}

func TestRunRelativeAndAbsoluteRootsSerialized(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{
		"a.js":     "a // x\n",
		"b.ts":     "/* c */ b\n",
		"sub/c.js": "c // y\n",
	})
	t.Chdir(root)

	comp := fsComponents(t, false)
	b := &slowBackup{inflight: map[string]int{}, calls: map[string]int{}, delay: 20 * time.Millisecond}
	comp.Backup = b
	set := settings(".", root)
	set.Concurrency = 8

	rep, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Considered)
	assert.Equal(t, 6, rep.Succeeded)
	assert.False(t, b.overlap.Load(), "same file processed concurrently via relative and absolute roots")
	for key, n := range b.calls {
		assert.Equal(t, 2, n, key)
	}
	assert.Equal(t, "a", read(t, filepath.Join(root, "a.js")))
	assert.Equal(t, "b", read(t, filepath.Join(root, "b.ts")))
	assert.Equal(t, "c", read(t, filepath.Join(root, "sub", "c.js")))
}

func TestRunCountsIndependentOfConcurrency(t *testing.T) {
	var srcs []contract.Source
	data := map[contract.FileID]string{}
	fails := map[contract.FileID]error{}
	for i := 0; i < 40; i++ {
		s := source(fmt.Sprintf("r/%02d.js", i))
		srcs = append(srcs, s)
		data[s.ID] = "a"
		if i%4 == 0 {
			fails[s.ID] = errors.New("x")
		}
	}
	for _, c := range []int{1, 3, 16} {
		w := newMemWriter()
		w.fail = fails
		set := settings("r")
		set.Concurrency = c
		rep, err := Run(context.Background(), Components{Reader: &memReader{srcs: srcs, data: data}, Writer: w}, set, nil)
		require.NoError(t, err)
		assert.Equal(t, 40, rep.Considered, "concurrency %d", c)
		assert.Equal(t, 30, rep.Succeeded, "concurrency %d", c)
	}
}

func TestRunStdinToStdout(t *testing.T) {
	src := contract.Source{ID: contract.StdinID, Path: "-", Root: "-"}
	r := &memReader{srcs: []contract.Source{src}, data: map[contract.FileID]string{contract.StdinID: "a // b\n\n"}}
	w := newMemWriter()
	b := &memBackup{saved: map[contract.FileID]string{}}
	var out bytes.Buffer
	set := settings("-")
	set.Stdout = &out
	rep, err := Run(context.Background(), Components{Reader: r, Writer: w, Backup: b}, set, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, "a", out.String())
	assert.Empty(t, w.out)
	assert.Empty(t, b.saved)
}

type upper struct{}

func (upper) Transform(s string) string { return strings.ToUpper(s) }

func TestRunCustomTransformer(t *testing.T) {
	r := &memReader{srcs: []contract.Source{source("r/a.js")}, data: map[contract.FileID]string{"r/a.js": "abc"}}
	w := newMemWriter()
	_, err := Run(context.Background(), Components{Reader: r, Writer: w, Transformer: upper{}}, settings("r"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC"}, w.out["r/a.js"])
}

func TestRunCanceled(t *testing.T) {
	r := &memReader{srcs: []contract.Source{source("r/a.js")}, data: map[contract.FileID]string{"r/a.js": "a"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Components{Reader: r, Writer: newMemWriter()}, settings("r"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunLogsStages(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.js": "a // b"})
	var buf bytes.Buffer
	logger := diag.NewLoggerTo(&buf, "corr", "debug")
	var term strings.Builder
	diag.SetTerminal(diag.NewTerminal(&term, true, true))
	defer diag.SetTerminal(nil)

	_, err := Run(context.Background(), fsComponents(t, true), settings(root), logger)
	require.NoError(t, err)
	logs := buf.String()
	for _, st := range transform.Stages() {
		assert.Contains(t, logs, `"stage":"`+st+`"`)
	}
	assert.Contains(t, logs, `"comp":"backup"`)
	assert.Contains(t, logs, "snapshot")
	assert.Contains(t, term.String(), "[backup]")
	assert.Contains(t, term.String(), "[ok] 全部完成 | 成功 1/1")
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second lock on same key must block")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	unlockB()
	assert.Equal(t, 0, k.size())
}

func TestLockKey(t *testing.T) {
	root := t.TempDir()
	seed(t, root, map[string]string{"a.js": ""})
	t.Chdir(root)

	rel := contract.Source{ID: contract.NormalizeFileID("a.js"), Path: "a.js", Root: "."}
	dotted := contract.Source{ID: contract.NormalizeFileID("./sub/../a.js"), Path: "./sub/../a.js", Root: "."}
	abs := contract.Source{ID: contract.NormalizeFileID(filepath.Join(root, "a.js")), Path: filepath.Join(root, "a.js"), Root: root}
	assert.Equal(t, lockKey(abs), lockKey(rel))
	assert.Equal(t, lockKey(abs), lockKey(dotted))
	assert.True(t, filepath.IsAbs(lockKey(rel)))

	stdin := contract.Source{ID: contract.StdinID, Path: "-", Root: "-"}
	assert.Equal(t, string(contract.StdinID), lockKey(stdin))

	// 不存在的文件退回绝对路径
	missing := contract.Source{Path: "nope.js"}
	assert.True(t, filepath.IsAbs(lockKey(missing)))
}

package pipeline

import (
	"path/filepath"
	"sync"

	"codeclean/pkg/contract"
)

// lockKey 返回同一物理文件的稳定键：绝对路径，能解析符号链接时取其目标。
// 相对根与绝对根重叠时，FileID 不同但键相同。
func lockKey(src contract.Source) string {
	if src.IsStdin() {
		return string(src.ID)
	}
	abs, err := filepath.Abs(src.Path)
	if err != nil {
		return filepath.Clean(src.Path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

// keyedMutex: 按键互斥；无人持有的键即时回收。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedEntry{}}
}

// Lock 获取 key 的锁，返回解锁函数。
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e := k.locks[key]
	if e == nil {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

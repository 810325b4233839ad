package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"codeclean/pkg/contract"
	bsib "codeclean/plugins/backup/sibling"
	rfs "codeclean/plugins/reader/filesystem"
	wfs "codeclean/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	return nil
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewBackup 工厂签名：接收原样 JSON Options。
type NewBackup func(raw json.RawMessage) (contract.Backup, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原地或输出目录；覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Backup 工厂注册表。
var Backup = map[string]NewBackup{
	// sibling: 源文件旁写 <path><suffix>
	"sibling": func(raw json.RawMessage) (contract.Backup, error) {
		var opts bsib.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bsib.New(&opts)
	},
}

// Names 返回注册表中的名称（排序后），用于错误提示与状态输出。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 均使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`

	// 扫描范围（映射到 Reader Options）。
	Extensions  []string `json:"extensions"`
	ExcludeDirs []string `json:"exclude_dirs"`
	Exclude     []string `json:"exclude"`

	// Backup: nil 表示未设置（默认开启）。
	Backup       *bool  `json:"backup"`
	BackupSuffix string `json:"backup_suffix"`
	// OutDir: 非空时输出到该目录（保留相对层级），源文件不改动。
	OutDir string `json:"out_dir"`
	// Verbose: nil 表示未设置（默认开启）。
	Verbose *bool `json:"verbose"`

	Stages  Stages  `json:"stages"`
	Logging Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Stages: 各阶段开关；nil 表示未设置（默认开启）。
type Stages struct {
	RemoveMarkupComments   *bool `json:"remove_markup_comments"`
	RemoveScriptComments   *bool `json:"remove_script_comments"`
	RemoveStyleComments    *bool `json:"remove_style_comments"`
	RemoveEmptyLines       *bool `json:"remove_empty_lines"`
	TrimTrailingWhitespace *bool `json:"trim_trailing_whitespace"`
	TrimFileEnds           *bool `json:"trim_file_ends"`
}

// Logging: 日志等级与目录；Dir 为空时写 stderr。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader"`
	Writer string `json:"writer"`
	Backup string `json:"backup"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader json.RawMessage `json:"reader"`
	Writer json.RawMessage `json:"writer"`
	Backup json.RawMessage `json:"backup"`
}

// Bool 返回指向 v 的指针。
func Bool(v bool) *bool { return &v }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// BackupEnabled 返回生效的备份开关。
func (c Config) BackupEnabled() bool { return boolOr(c.Backup, true) }

// VerboseEnabled 返回生效的 verbose 开关。
func (c Config) VerboseEnabled() bool { return boolOr(c.Verbose, true) }

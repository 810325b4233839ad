package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 组件名采用仓库内置实现；
// - 选项给出安全中性默认值，包含全部键。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:       []string{},
		Concurrency:  d.Concurrency,
		Extensions:   d.Extensions,
		ExcludeDirs:  []string{".git", "node_modules"},
		Exclude:      []string{},
		Backup:       Bool(true),
		BackupSuffix: d.BackupSuffix,
		OutDir:       "",
		Verbose:      Bool(true),
		Stages: Stages{
			RemoveMarkupComments:   Bool(true),
			RemoveScriptComments:   Bool(true),
			RemoveStyleComments:    Bool(true),
			RemoveEmptyLines:       Bool(true),
			TrimTrailingWhitespace: Bool(true),
			TrimFileEnds:           Bool(true),
		},
		Logging:    Logging{Level: "info", Dir: "logs"},
		Components: d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{"buf_size": 65536}`)
	cfg.Options.Writer = json.RawMessage(`{"atomic": true, "perm_file": 0, "perm_dir": 0, "buf_size": 65536}`)
	cfg.Options.Backup = json.RawMessage(`{"perm_file": 0}`)
	return cfg
}

// 顶层键注释（写入模板）。
var templateComments = map[string]string{
	"inputs":        "目标路径（文件或目录；\"-\" 表示 STDIN）。命令行位置参数优先。",
	"concurrency":   "并发处理的文件数（>=1）。",
	"extensions":    "目录扫描时处理的扩展名；显式给出的单个文件不受限制。",
	"exclude_dirs":  "扫描时跳过的目录名（基名完全匹配）。",
	"exclude":       "glob 排除模式，匹配相对路径或基名。",
	"backup":        "改写前在源文件旁写入备份。",
	"backup_suffix": "备份文件后缀。",
	"out_dir":       "非空时输出到该目录（保留相对层级），源文件不改动。",
	"verbose":       "逐文件输出处理过程与最终汇总表。",
	"stages":        "各清理阶段开关。",
	"logging":       "结构化日志：level 为 debug|info|warn|error；dir 为空时写 stderr。",
	"components":    "组件实现名（注册表）。",
	"options":       "各组件原样 Options；顶层同名字段优先。",
}

// TemplateYAML 生成带注释的 YAML 配置模板。
func TemplateYAML() ([]byte, error) {
	js, err := json.Marshal(DefaultTemplateConfig())
	if err != nil {
		return nil, err
	}
	y, err := yaml.JSONToYAML(js)
	if err != nil {
		return nil, err
	}
	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(y, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yamlv3.MappingNode {
		return nil, fmt.Errorf("template: unexpected yaml shape")
	}
	root := doc.Content[0]
	doc.HeadComment = "codeclean 配置模板（由 --init-config 生成）\n优先级：CLI > ENV(.env) > 配置文件 > 默认值"
	for i := 0; i+1 < len(root.Content); i += 2 {
		if c, ok := templateComments[root.Content[i].Value]; ok {
			root.Content[i].HeadComment = c
		}
	}
	var buf bytes.Buffer
	enc := yamlv3.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DotEnvTemplate 返回 .env 模板内容：列出全部 CODECLEAN_* 覆盖项，值为空。
func DotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# codeclean .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置；列表使用逗号分隔。\n\n")

	b.WriteString("# 配置来源\n")
	b.WriteString(EnvConfigFile + "=\n\n")

	section := func(title string, keys ...string) {
		b.WriteString("# " + title + "\n")
		for _, k := range keys {
			b.WriteString(EnvPrefix + k + "=\n")
		}
		b.WriteString("\n")
	}
	section("运行参数覆盖", "INPUTS", "CONCURRENCY", "EXTENSIONS", "EXCLUDE_DIRS", "EXCLUDE",
		"BACKUP", "BACKUP_SUFFIX", "OUT_DIR", "VERBOSE")
	section("阶段开关", "REMOVE_MARKUP_COMMENTS", "REMOVE_SCRIPT_COMMENTS", "REMOVE_STYLE_COMMENTS",
		"REMOVE_EMPTY_LINES", "TRIM_TRAILING_WHITESPACE", "TRIM_FILE_ENDS")
	section("日志", "LOG_LEVEL", "LOG_DIR")
	section("组件选择", "COMPONENTS_READER", "COMPONENTS_WRITER", "COMPONENTS_BACKUP")
	section("组件 Options（原样 JSON）", "OPTIONS_READER_JSON", "OPTIONS_WRITER_JSON", "OPTIONS_BACKUP_JSON")
	return b.String()
}

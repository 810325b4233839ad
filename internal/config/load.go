package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// EnvPrefix 为环境变量前缀。
const EnvPrefix = "CODECLEAN_"

// EnvConfigFile: 指定配置文件路径的环境变量。
const EnvConfigFile = EnvPrefix + "CONFIG_FILE"

// DefaultFileNames: 工作目录中按序查找的配置文件名。
var DefaultFileNames = []string{"codeclean.yaml", "codeclean.yml", "codeclean.json"}

// LoadDotEnv 读取 .env 并注入进程环境（不覆盖已有变量）；文件不存在时忽略。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Concurrency:  runtime.NumCPU(),
		Extensions:   []string{".vue", ".js", ".ts", ".jsx", ".tsx"},
		Backup:       Bool(true),
		BackupSuffix: ".backup",
		Verbose:      Bool(true),
		Components: Components{
			Reader: "fs",
			Writer: "fs",
			Backup: "sibling",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	b, err := source(path, raw)
	if err != nil {
		return cfg, err
	}
	return decodeStrict(b)
}

// LoadYAML 从文件路径或原始 YAML 解析 Config：先转为 JSON，再严格解码。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	b, err := source(path, raw)
	if err != nil {
		return cfg, err
	}
	js, err := yaml.YAMLToJSONStrict(b)
	if err != nil {
		return cfg, fmt.Errorf("yaml: %w", err)
	}
	return decodeStrict(js)
}

// LoadFile 按扩展名选择解析器（.json 为 JSON，其余按 YAML）。
func LoadFile(path string) (Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(path, nil)
	}
	return LoadYAML(path, nil)
}

// Discover 返回要加载的配置文件路径：显式路径 > CODECLEAN_CONFIG_FILE > dir 下默认文件名。
// 均不存在时返回空串。显式指定（参数或环境变量）的文件不存在时报错。
func Discover(explicit, dir string, environ []string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return mustExist(p)
	}
	if p := strings.TrimSpace(lookup(environ, EnvConfigFile)); p != "" {
		return mustExist(p)
	}
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", nil
}

func mustExist(p string) (string, error) {
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("config file: %w", err)
	}
	return p, nil
}

func lookup(environ []string, key string) string {
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}

func source(path string, raw []byte) ([]byte, error) {
	switch {
	case len(raw) > 0:
		return raw, nil
	case path != "":
		return os.ReadFile(path)
	default:
		return nil, errors.New("no config source provided")
	}
}

func decodeStrict(b []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/切片/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if len(over.Extensions) > 0 {
		out.Extensions = cloneStrings(over.Extensions)
	}
	if len(over.ExcludeDirs) > 0 {
		out.ExcludeDirs = cloneStrings(over.ExcludeDirs)
	}
	if len(over.Exclude) > 0 {
		out.Exclude = cloneStrings(over.Exclude)
	}
	if over.Backup != nil {
		out.Backup = Bool(*over.Backup)
	}
	if s := strings.TrimSpace(over.BackupSuffix); s != "" {
		out.BackupSuffix = s
	}
	if s := strings.TrimSpace(over.OutDir); s != "" {
		out.OutDir = s
	}
	if over.Verbose != nil {
		out.Verbose = Bool(*over.Verbose)
	}

	// 阶段开关（nil 不覆盖）
	out.Stages.RemoveMarkupComments = overBool(out.Stages.RemoveMarkupComments, over.Stages.RemoveMarkupComments)
	out.Stages.RemoveScriptComments = overBool(out.Stages.RemoveScriptComments, over.Stages.RemoveScriptComments)
	out.Stages.RemoveStyleComments = overBool(out.Stages.RemoveStyleComments, over.Stages.RemoveStyleComments)
	out.Stages.RemoveEmptyLines = overBool(out.Stages.RemoveEmptyLines, over.Stages.RemoveEmptyLines)
	out.Stages.TrimTrailingWhitespace = overBool(out.Stages.TrimTrailingWhitespace, over.Stages.TrimTrailingWhitespace)
	out.Stages.TrimFileEnds = overBool(out.Stages.TrimFileEnds, over.Stages.TrimFileEnds)

	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Backup != "" {
		out.Components.Backup = over.Components.Backup
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Backup) > 0 {
		out.Options.Backup = cloneRaw(over.Options.Backup)
	}
	return out
}

func overBool(base, over *bool) *bool {
	if over != nil {
		return Bool(*over)
	}
	return base
}

// envConfig: CODECLEAN_* 环境变量映射（caarlos0/env）。
type envConfig struct {
	Inputs       []string `env:"INPUTS"`
	Concurrency  int      `env:"CONCURRENCY"`
	Extensions   []string `env:"EXTENSIONS"`
	ExcludeDirs  []string `env:"EXCLUDE_DIRS"`
	Exclude      []string `env:"EXCLUDE"`
	Backup       bool     `env:"BACKUP"`
	BackupSuffix string   `env:"BACKUP_SUFFIX"`
	OutDir       string   `env:"OUT_DIR"`
	Verbose      bool     `env:"VERBOSE"`

	RemoveMarkupComments   bool `env:"REMOVE_MARKUP_COMMENTS"`
	RemoveScriptComments   bool `env:"REMOVE_SCRIPT_COMMENTS"`
	RemoveStyleComments    bool `env:"REMOVE_STYLE_COMMENTS"`
	RemoveEmptyLines       bool `env:"REMOVE_EMPTY_LINES"`
	TrimTrailingWhitespace bool `env:"TRIM_TRAILING_WHITESPACE"`
	TrimFileEnds           bool `env:"TRIM_FILE_ENDS"`

	LogLevel string `env:"LOG_LEVEL"`
	LogDir   string `env:"LOG_DIR"`

	ComponentsReader string `env:"COMPONENTS_READER"`
	ComponentsWriter string `env:"COMPONENTS_WRITER"`
	ComponentsBackup string `env:"COMPONENTS_BACKUP"`

	// 原样 JSON；空值视为未设置
	OptionsReader string `env:"OPTIONS_READER_JSON"`
	OptionsWriter string `env:"OPTIONS_WRITER_JSON"`
	OptionsBackup string `env:"OPTIONS_BACKUP_JSON"`
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（前缀 CODECLEAN_）。
// 布尔与整数仅在变量非空时覆盖，以区分“未设置”与显式 false/0。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	var e envConfig
	set := map[string]bool{}
	err := env.ParseWithOptions(&e, env.Options{
		Prefix:      EnvPrefix,
		Environment: envMap(environ),
		OnSet: func(tag string, value any, isDefault bool) {
			if v, _ := value.(string); v != "" && !isDefault {
				set[strings.TrimPrefix(tag, EnvPrefix)] = true
			}
		},
	})
	if err != nil {
		return over, fmt.Errorf("env: %w", err)
	}

	over.Inputs = trimAll(e.Inputs)
	if set["CONCURRENCY"] {
		over.Concurrency = e.Concurrency
	}
	over.Extensions = trimAll(e.Extensions)
	over.ExcludeDirs = trimAll(e.ExcludeDirs)
	over.Exclude = trimAll(e.Exclude)
	over.BackupSuffix = e.BackupSuffix
	over.OutDir = e.OutDir
	if set["BACKUP"] {
		over.Backup = Bool(e.Backup)
	}
	if set["VERBOSE"] {
		over.Verbose = Bool(e.Verbose)
	}
	flag := func(key string, v bool) *bool {
		if set[key] {
			return Bool(v)
		}
		return nil
	}
	over.Stages = Stages{
		RemoveMarkupComments:   flag("REMOVE_MARKUP_COMMENTS", e.RemoveMarkupComments),
		RemoveScriptComments:   flag("REMOVE_SCRIPT_COMMENTS", e.RemoveScriptComments),
		RemoveStyleComments:    flag("REMOVE_STYLE_COMMENTS", e.RemoveStyleComments),
		RemoveEmptyLines:       flag("REMOVE_EMPTY_LINES", e.RemoveEmptyLines),
		TrimTrailingWhitespace: flag("TRIM_TRAILING_WHITESPACE", e.TrimTrailingWhitespace),
		TrimFileEnds:           flag("TRIM_FILE_ENDS", e.TrimFileEnds),
	}
	over.Logging = Logging{Level: strings.TrimSpace(e.LogLevel), Dir: strings.TrimSpace(e.LogDir)}
	over.Components = Components{
		Reader: strings.TrimSpace(e.ComponentsReader),
		Writer: strings.TrimSpace(e.ComponentsWriter),
		Backup: strings.TrimSpace(e.ComponentsBackup),
	}
	for _, o := range []struct {
		raw string
		dst *json.RawMessage
	}{
		{e.OptionsReader, &over.Options.Reader},
		{e.OptionsWriter, &over.Options.Writer},
		{e.OptionsBackup, &over.Options.Backup},
	} {
		if strings.TrimSpace(o.raw) != "" {
			*o.dst = json.RawMessage(o.raw)
		}
	}
	return over, nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

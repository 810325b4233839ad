package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codeclean/internal/diag"
	"codeclean/internal/pipeline"
	"codeclean/internal/transform"
	"codeclean/pkg/registry"
)

// ErrNoInputs: 未给出任何目标路径。
var ErrNoInputs = errors.New("config: inputs empty")

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return ErrNoInputs
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if !diag.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
	}
	if cfg.BackupEnabled() && strings.TrimSpace(cfg.BackupSuffix) == "" && len(cfg.Options.Backup) == 0 {
		return errors.New("config: backup_suffix cannot be empty when backup is enabled")
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if cfg.BackupEnabled() {
		if name := effName(cfg.Components.Backup, d.Components.Backup); registry.Backup[name] == nil {
			return fmt.Errorf("config: backup %q not registered", name)
		}
	}
	return nil
}

// StageConfig 返回生效的阶段开关（未设置的阶段默认开启）。
func (c Config) StageConfig() transform.StageConfig {
	s := c.Stages
	return transform.StageConfig{
		RemoveMarkupComments:   boolOr(s.RemoveMarkupComments, true),
		RemoveScriptComments:   boolOr(s.RemoveScriptComments, true),
		RemoveStyleComments:    boolOr(s.RemoveStyleComments, true),
		RemoveEmptyLines:       boolOr(s.RemoveEmptyLines, true),
		TrimTrailingWhitespace: boolOr(s.TrimTrailingWhitespace, true),
		TrimFileEnds:           boolOr(s.TrimFileEnds, true),
	}
}

// Assemble 构造 Components 与 Settings。
// 顶层字段（extensions/exclude_dirs/exclude/out_dir/backup_suffix）叠加进对应组件的 Options；
// 严格 Options 解析在 registry（工厂）层进行。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	bn := effName(cfg.Components.Backup, d.Components.Backup)

	ropts, err := overlay(cfg.Options.Reader, map[string]any{
		"extensions":        nonEmpty(cfg.Extensions),
		"exclude_dir_names": nonEmpty(cfg.ExcludeDirs),
		"exclude":           nonEmpty(cfg.Exclude),
	})
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("options.reader: %w", err)
	}
	r, err := registry.Reader[rn](ropts)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	wopts, err := overlay(cfg.Options.Writer, map[string]any{
		"output_dir": strings.TrimSpace(cfg.OutDir),
	})
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("options.writer: %w", err)
	}
	w, err := registry.Writer[wn](wopts)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	comp := pipeline.Components{Reader: r, Writer: w}
	// 输出到独立目录时源文件不改动，无需备份
	if cfg.BackupEnabled() && strings.TrimSpace(cfg.OutDir) == "" {
		bopts, err := overlay(cfg.Options.Backup, map[string]any{
			"suffix": strings.TrimSpace(cfg.BackupSuffix),
		})
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("options.backup: %w", err)
		}
		b, err := registry.Backup[bn](bopts)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		comp.Backup = b
	}

	set := pipeline.Settings{
		Inputs:      cloneStrings(cfg.Inputs),
		Concurrency: cfg.Concurrency,
		Stages:      cfg.StageConfig(),
	}
	return comp, set, nil
}

// overlay 将非零的 kv 写入 raw 对象（覆盖同名键），其余键原样保留。
func overlay(raw json.RawMessage, kv map[string]any) (json.RawMessage, error) {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]any{}
		}
	}
	for k, v := range kv {
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
		case []string:
			if len(t) == 0 {
				continue
			}
		}
		m[k] = v
	}
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nonEmpty(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return in
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

package transform

import (
	"regexp"
	"strings"
	"unicode"
)

// StageConfig: 各阶段独立开关；零值表示全部关闭，DefaultStages 返回全部开启。
type StageConfig struct {
	// RemoveMarkupComments: 删除 <!-- --> 注释（阶段 1）。
	RemoveMarkupComments bool `json:"remove_markup_comments" yaml:"remove_markup_comments"`
	// RemoveScriptComments: 删除 // 与 /* */ 注释（阶段 2、3）。
	RemoveScriptComments bool `json:"remove_script_comments" yaml:"remove_script_comments"`
	// RemoveStyleComments: 删除 <style> 之后的 // 与 /* */ 注释（阶段 4、5）。
	RemoveStyleComments bool `json:"remove_style_comments" yaml:"remove_style_comments"`
	// RemoveEmptyLines: 删除去空白后为空的行（阶段 6）。
	RemoveEmptyLines bool `json:"remove_empty_lines" yaml:"remove_empty_lines"`
	// TrimTrailingWhitespace: 清理行尾空白，保留缩进（阶段 7）。
	TrimTrailingWhitespace bool `json:"trim_trailing_whitespace" yaml:"trim_trailing_whitespace"`
	// TrimFileEnds: 清理文件首尾空行（阶段 8）。
	TrimFileEnds bool `json:"trim_file_ends" yaml:"trim_file_ends"`
}

// DefaultStages 返回全部开启的配置。
func DefaultStages() StageConfig {
	return StageConfig{
		RemoveMarkupComments:   true,
		RemoveScriptComments:   true,
		RemoveStyleComments:    true,
		RemoveEmptyLines:       true,
		TrimTrailingWhitespace: true,
		TrimFileEnds:           true,
	}
}

// Stage: 单个改写阶段。顺序固定，见 stages。
type Stage struct {
	Name    string
	enabled func(StageConfig) bool
	apply   func(string) string
}

// 未闭合的开标记吞掉剩余全部文本（\z 兜底），从不报错。
var (
	reMarkupComment = regexp.MustCompile(`(?s)<!--.*?(?:-->|\z)`)
	// 行注释止于任一行终止符（\n \r U+2028 U+2029），终止符本身保留。
	reLineComment  = regexp.MustCompile(`//[^\n\r\x{2028}\x{2029}]*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?(?:\*/|\z)`)
)

var stages = []Stage{
	{
		Name:    "markup_comments",
		enabled: func(c StageConfig) bool { return c.RemoveMarkupComments },
		apply:   func(s string) string { return reMarkupComment.ReplaceAllLiteralString(s, "") },
	},
	{
		Name:    "script_line_comments",
		enabled: func(c StageConfig) bool { return c.RemoveScriptComments },
		apply:   func(s string) string { return reLineComment.ReplaceAllLiteralString(s, "") },
	},
	{
		Name:    "script_block_comments",
		enabled: func(c StageConfig) bool { return c.RemoveScriptComments },
		apply:   func(s string) string { return reBlockComment.ReplaceAllLiteralString(s, "") },
	},
	{
		Name:    "style_line_comments",
		enabled: func(c StageConfig) bool { return c.RemoveStyleComments },
		apply:   func(s string) string { return styleScoped(s, reLineComment) },
	},
	{
		Name:    "style_block_comments",
		enabled: func(c StageConfig) bool { return c.RemoveStyleComments },
		apply:   func(s string) string { return styleScoped(s, reBlockComment) },
	},
	{
		Name:    "empty_lines",
		enabled: func(c StageConfig) bool { return c.RemoveEmptyLines },
		apply:   removeEmptyLines,
	},
	{
		Name:    "trailing_whitespace",
		enabled: func(c StageConfig) bool { return c.TrimTrailingWhitespace },
		apply:   trimTrailingWhitespace,
	},
	{
		Name:    "file_ends",
		enabled: func(c StageConfig) bool { return c.TrimFileEnds },
		apply:   trimFileEnds,
	},
}

// Stages 返回按执行顺序排列的阶段名。
func Stages() []string {
	out := make([]string, len(stages))
	for i, st := range stages {
		out[i] = st.Name
	}
	return out
}

// Observer 在每个已启用阶段执行后回调（前后字节数）。
type Observer func(stage string, before, after int)

// Apply 按固定顺序执行已启用的阶段；纯函数，不修改输入，不返回错误。
func Apply(text string, cfg StageConfig) string {
	return ApplyObserved(text, cfg, nil)
}

// ApplyObserved 同 Apply，并对每个已启用阶段调用 obs（可为 nil）。
func ApplyObserved(text string, cfg StageConfig, obs Observer) string {
	out := text
	for _, st := range stages {
		if !st.enabled(cfg) {
			continue
		}
		before := len(out)
		out = st.apply(out)
		if obs != nil {
			obs(st.Name, before, len(out))
		}
	}
	return out
}

// Transformer 将 StageConfig 绑定为 contract.Transformer。
type Transformer struct {
	cfg StageConfig
	obs Observer
}

// New 创建 Transformer；obs 可为 nil。
func New(cfg StageConfig, obs Observer) *Transformer {
	return &Transformer{cfg: cfg, obs: obs}
}

// Transform 实现 contract.Transformer。
func (t *Transformer) Transform(text string) string {
	return ApplyObserved(text, t.cfg, t.obs)
}

// Config 返回绑定的阶段配置。
func (t *Transformer) Config() StageConfig { return t.cfg }

func removeEmptyLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, ln := range lines {
		if strings.TrimFunc(ln, isSpace) != "" {
			kept = append(kept, ln)
		}
	}
	return strings.Join(kept, "\n")
}

func trimTrailingWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRightFunc(ln, isSpace)
	}
	return strings.Join(lines, "\n")
}

// trimFileEnds:
//   - 开头：空白段内最后一个换行及其之前的内容全部删除（只含空格的首行保留缩进）；
//   - 结尾：从“其后只剩空白”的第一个换行起全部删除。
func trimFileEnds(s string) string {
	lead := len(s) - len(strings.TrimLeftFunc(s, isSpace))
	if i := strings.LastIndexByte(s[:lead], '\n'); i >= 0 {
		s = s[i+1:]
	}
	tail := len(strings.TrimRightFunc(s, isSpace))
	if i := strings.IndexByte(s[tail:], '\n'); i >= 0 {
		s = s[:tail+i]
	}
	return s
}

// isSpace: ECMAScript 空白集合（Unicode White_Space 去掉 U+0085，加上 U+FEFF）。
func isSpace(r rune) bool {
	if r == '\uFEFF' {
		return true
	}
	return r != '\u0085' && unicode.IsSpace(r)
}

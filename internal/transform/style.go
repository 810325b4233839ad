package transform

import (
	"regexp"
	"strings"
)

const styleOpen = "<style"

// styleScopeStart 返回第一个完整 <style...> 开标签之后的偏移；不存在时返回 -1。
//
// 只看开标签、不检查 </style>：开标签之后的全部文本都视为样式区。
// 最早出现的 "<style" 对应的 '>' 也是所有开标签中最早的结束位置。
func styleScopeStart(s string) int {
	i := strings.Index(s, styleOpen)
	if i < 0 {
		return -1
	}
	j := strings.IndexByte(s[i+len(styleOpen):], '>')
	if j < 0 {
		return -1
	}
	return i + len(styleOpen) + j + 1
}

// styleScoped 两遍扫描：先定位样式区起点，再只对其后的文本执行 re 替换。
func styleScoped(s string, re *regexp.Regexp) string {
	at := styleScopeStart(s)
	if at < 0 {
		return s
	}
	return s[:at] + re.ReplaceAllLiteralString(s[at:], "")
}

package contract

// Transformer: 纯文本改写（无 I/O、无状态、不失败）。
type Transformer interface {
	Transform(text string) string
}

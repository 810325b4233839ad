package contract

// FileID: 逻辑文件ID（规范化路径，跨平台一致）。
type FileID string

// StdinID: 以 "-" 作为唯一根时使用的 FileID。
const StdinID FileID = "stdin"

// Source: 遍历得到的单个待处理文件（尚未打开）。
// 约束：
// - ID 经 NormalizeFileID 规范化；
// - Path 为原始 OS 路径，备份与写回均以其为准；
// - Root 为产生该文件的输入根，用于目录统计与输出映射；
// - Err 非空表示该路径无法枚举（根不存在、目录不可读），此时不计入统计。
type Source struct {
	ID   FileID
	Path string
	Root string
	Err  error
}

// IsStdin 报告该 Source 是否为标准输入。
func (s Source) IsStdin() bool { return s.ID == StdinID && s.Path == "-" }

package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"testing"

	"codeclean/internal/transform"
	"codeclean/pkg/contract"
)

// discardWriter 丢弃所有输出，避免磁盘开销。
type discardWriter struct{}

func (discardWriter) Write(ctx context.Context, src contract.Source, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// BenchmarkRun 测试流水线在不同并发度下的吞吐。
func BenchmarkRun(b *testing.B) {
	body := strings.Repeat("<!-- c -->\n  var a = 1; // x\n/* y */\n\n", 2000)
	var srcs []contract.Source
	data := map[contract.FileID]string{}
	for i := 0; i < 64; i++ {
		s := source(fmt.Sprintf("r/%d.js", i))
		srcs = append(srcs, s)
		data[s.ID] = body
	}
	r := &memReader{srcs: srcs, data: data}
	for _, c := range []int{1, runtime.NumCPU()} {
		b.Run(fmt.Sprintf("C=%d", c), func(b *testing.B) {
			set := Settings{Inputs: []string{"r"}, Concurrency: c, Stages: transform.DefaultStages()}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Run(context.Background(), Components{Reader: r, Writer: discardWriter{}}, set, nil); err != nil {
					b.Fatalf("run: %v", err)
				}
			}
		})
	}
}

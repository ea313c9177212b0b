// Embedder 的测试模拟实现。
//
// 向量由文本长度与首字符决定，可注入初始化与嵌入错误。
package mocks

import (
	"context"
	"sync"
)

// Embedder 可控的 embedding.Embedder
type Embedder struct {
	mu sync.Mutex

	Dim      int
	InitErr  error
	EmbedErr error

	ready bool
	calls int
}

// NewEmbedder 创建维度为 dim 的模拟嵌入器
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim}
}

func (e *Embedder) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.InitErr != nil {
		return e.InitErr
	}
	e.ready = true
	return nil
}

func (e *Embedder) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *Embedder) Dimension() int { return e.Dim }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.EmbedErr != nil {
		return nil, e.EmbedErr
	}
	vec := make([]float64, e.Dim)
	if e.Dim == 0 || text == "" {
		return vec, nil
	}
	vec[int(text[0])%e.Dim] = 1
	return vec, nil
}

// SetEmbedErr 在运行中切换嵌入错误
func (e *Embedder) SetEmbedErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EmbedErr = err
}

// Calls 返回 Embed 调用次数
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

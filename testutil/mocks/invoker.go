// ScriptedInvoker 的补全后端测试模拟实现。
//
// 按 Agent 排队回复，支持错误注入与调用记录。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/agentcircle/agent/invoker"
)

// ScriptedInvoker 按 Agent ID 返回预设回复
type ScriptedInvoker struct {
	mu sync.Mutex

	replies  map[string][]string
	fixed    map[string]string
	failures map[string]error
	calls    []invoker.Request
}

// NewScriptedInvoker 创建空的脚本后端
func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{
		replies:  make(map[string][]string),
		fixed:    make(map[string]string),
		failures: make(map[string]error),
	}
}

// WithReply 设置 agentID 每次回合的固定回复
func (s *ScriptedInvoker) WithReply(agentID, reply string) *ScriptedInvoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed[agentID] = reply
	return s
}

// Queue 追加一次性回复，先于固定回复消费
func (s *ScriptedInvoker) Queue(agentID string, replies ...string) *ScriptedInvoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[agentID] = append(s.replies[agentID], replies...)
	return s
}

// WithError 让 agentID 的回合失败；err 为 nil 时清除
func (s *ScriptedInvoker) WithError(agentID string, err error) *ScriptedInvoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, agentID)
	} else {
		s.failures[agentID] = err
	}
	return s
}

// Complete 实现 invoker.Invoker
func (s *ScriptedInvoker) Complete(ctx context.Context, req invoker.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	id := req.Agent.ID
	if err := s.failures[id]; err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if q := s.replies[id]; len(q) > 0 {
		s.replies[id] = q[1:]
		return q[0], nil
	}
	if r, ok := s.fixed[id]; ok {
		return r, nil
	}
	return fmt.Sprintf("%s: nulla da aggiungere.", req.Agent.Name), nil
}

// Calls 返回全部请求
func (s *ScriptedInvoker) Calls() []invoker.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]invoker.Request(nil), s.calls...)
}

// CallsFor 返回某个 Agent 的请求
func (s *ScriptedInvoker) CallsFor(agentID string) []invoker.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoker.Request
	for _, c := range s.calls {
		if c.Agent.ID == agentID {
			out = append(out, c)
		}
	}
	return out
}

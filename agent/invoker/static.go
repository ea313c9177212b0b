package invoker

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StaticInvoker answers without a backend. It cycles through Replies, or
// echoes the last history line when none are set. Useful for development
// and tests.
type StaticInvoker struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	next    int
	calls   []Request
}

func (s *StaticInvoker) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Replies) > 0 {
		r := s.Replies[s.next%len(s.Replies)]
		s.next++
		return r, nil
	}
	last := strings.TrimSpace(req.Prompt)
	if n := len(req.History); n > 0 {
		last = req.History[n-1].Text
	}
	return fmt.Sprintf("%s ha ascoltato: %q", req.Agent.Name, last), nil
}

// Calls returns the requests received so far.
func (s *StaticInvoker) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

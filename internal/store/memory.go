package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/flowkit/pkg/schema"
)

// MemoryStore is an in-memory implementation of both WorkflowRepository and
// ExecutionStore. Records are stored as marshaled JSON so that every Get/Load
// returns an isolated copy and round-trip fidelity matches the durable
// implementations.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]json.RawMessage
	executions map[string]json.RawMessage
	order      []string // execution insertion order, for stable listing
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]json.RawMessage),
		executions: make(map[string]json.RawMessage),
	}
}

// --- WorkflowRepository ---

func (s *MemoryStore) Save(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow must have an id")
	}
	raw, err := json.Marshal(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal workflow").WithCause(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = raw
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*schema.Workflow, error) {
	s.mu.RLock()
	raw, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("workflow", id)
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(raw, wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal workflow").WithCause(err)
	}
	return wf, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*schema.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Workflow, 0, len(s.workflows))
	for _, raw := range s.workflows {
		wf := &schema.Workflow{}
		if err := json.Unmarshal(raw, wf); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "unmarshal workflow").WithCause(err)
		}
		out = append(out, wf)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return notFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

// --- ExecutionStore ---

// SaveExecution satisfies ExecutionStore via the Executions() view.
type memoryExecutions struct {
	s *MemoryStore
}

// Executions returns the ExecutionStore view of this MemoryStore.
func (s *MemoryStore) Executions() ExecutionStore {
	return &memoryExecutions{s: s}
}

func (m *memoryExecutions) Save(ctx context.Context, exec *schema.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution must have an id")
	}
	raw, err := json.Marshal(exec)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal execution").WithCause(err)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, exists := m.s.executions[exec.ID]; !exists {
		m.s.order = append(m.s.order, exec.ID)
	}
	m.s.executions[exec.ID] = raw
	return nil
}

func (m *memoryExecutions) Load(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	m.s.mu.RLock()
	raw, ok := m.s.executions[id]
	m.s.mu.RUnlock()
	if !ok {
		return nil, notFound("execution", id)
	}
	exec := &schema.WorkflowExecution{}
	if err := json.Unmarshal(raw, exec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "unmarshal execution").WithCause(err)
	}
	return exec, nil
}

func (m *memoryExecutions) List(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var out []*schema.WorkflowExecution
	skipped := 0
	for _, id := range m.s.order {
		raw, ok := m.s.executions[id]
		if !ok {
			continue
		}
		exec := &schema.WorkflowExecution{}
		if err := json.Unmarshal(raw, exec); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "unmarshal execution").WithCause(err)
		}
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && exec.Status != *filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, exec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryExecutions) Delete(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.executions[id]; !ok {
		return notFound("execution", id)
	}
	delete(m.s.executions, id)
	return nil
}

var (
	_ WorkflowRepository = (*MemoryStore)(nil)
	_ ExecutionStore     = (*memoryExecutions)(nil)
)

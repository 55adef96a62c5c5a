package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/fiscalbridge/internal/compliance"
	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
)

// Memory holds documents in process memory for dry runs.
type Memory struct {
	mu   sync.RWMutex
	docs map[fiscal.Class]map[string]fiscal.Document
}

// NewMemory constructs an empty accessor.
func NewMemory() *Memory {
	return &Memory{docs: make(map[fiscal.Class]map[string]fiscal.Document)}
}

// Put stores doc, replacing any earlier revision.
func (m *Memory) Put(_ context.Context, doc fiscal.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.docs[doc.Class]
	if byID == nil {
		byID = make(map[string]fiscal.Document)
		m.docs[doc.Class] = byID
	}
	byID[doc.ID] = doc
	return nil
}

func (m *Memory) Get(_ context.Context, class fiscal.Class, id string) (fiscal.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[class][id]
	if !ok {
		return fiscal.Document{}, fmt.Errorf("%w: %s %s", compliance.ErrDocumentNotFound, class, id)
	}
	return doc, nil
}

func (m *Memory) ListIDs(_ context.Context, class fiscal.Class) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs[class]))
	for id := range m.docs[class] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ compliance.Documents = (*Memory)(nil)

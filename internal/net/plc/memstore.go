package plc

import (
	"context"
	"strings"
	"sync"

	"github.com/gopcua/opcua/ua"
)

// MemoryStore is an in-process NodeStore. It backs the tests and the
// "memory" store mode, where the simulation runs without a controller.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]*memNode
	watchers []func(ref NodeRef, value any)
}

type memNode struct {
	ref      NodeRef
	dataType ua.TypeID
	value    any
	children []string
	fault    error
}

func NewMemoryStore() *MemoryStore {
	root := &memNode{ref: NodeRef{ID: ROOT_NAME, Path: []string{ROOT_NAME}}}
	return &MemoryStore{
		nodes: map[string]*memNode{ROOT_NAME: root},
	}
}

// Add creates the variable at the slash separated path below the root and
// any missing folders on the way. Namespace prefixes ("3:Inputs") are
// dropped from the stored names. Adding an existing path resets its type
// and value.
func (s *MemoryStore) Add(path string, dataType ua.TypeID, value any) NodeRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.nodes[ROOT_NAME]
	for _, elem := range strings.Split(strings.Trim(path, PATH_SEPARATOR), PATH_SEPARATOR) {
		_, name, _ := splitQualified(elem)
		next := s.lookup(current, name)
		if next == nil {
			ref := current.ref.child(current.ref.ID+PATH_SEPARATOR+name, name)
			next = &memNode{ref: ref}
			s.nodes[ref.ID] = next
			current.children = append(current.children, ref.ID)
		}
		current = next
	}

	current.dataType = dataType
	current.value = value
	return current.ref
}

// Fail makes every read and write of ref fail with err until it is cleared
// with a nil err.
func (s *MemoryStore) Fail(ref NodeRef, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[ref.ID]; ok {
		n.fault = err
	}
}

// Watch registers fn to be called after every successful write, in write
// order. fn runs with the store locked and must not call back into it.
func (s *MemoryStore) Watch(fn func(ref NodeRef, value any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *MemoryStore) Root(ctx context.Context) (NodeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[ROOT_NAME].ref, nil
}

func (s *MemoryStore) Children(ctx context.Context, ref NodeRef) ([]NodeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[ref.ID]
	if !ok {
		return nil, readError(ref, ErrNotFound)
	}

	children := make([]NodeRef, 0, len(n.children))
	for _, id := range n.children {
		children = append(children, s.nodes[id].ref)
	}
	return children, nil
}

func (s *MemoryStore) Child(ctx context.Context, ref NodeRef, path ...string) (NodeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.nodes[ref.ID]
	if !ok {
		return NodeRef{}, notFound(ref, "")
	}

	for _, elem := range path {
		_, name, _ := splitQualified(elem)
		next := s.lookup(current, name)
		if next == nil {
			return NodeRef{}, notFound(current.ref, elem)
		}
		current = next
	}
	return current.ref, nil
}

func (s *MemoryStore) lookup(parent *memNode, name string) *memNode {
	for _, id := range parent.children {
		if child := s.nodes[id]; child.ref.Name() == name {
			return child
		}
	}
	return nil
}

func (s *MemoryStore) DisplayName(ctx context.Context, ref NodeRef) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[ref.ID]
	if !ok {
		return "", readError(ref, ErrNotFound)
	}
	return n.ref.Name(), nil
}

func (s *MemoryStore) Value(ctx context.Context, ref NodeRef) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, readError(ref, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[ref.ID]
	if !ok {
		return nil, readError(ref, ErrNotFound)
	}
	if n.fault != nil {
		return nil, readError(ref, n.fault)
	}
	return n.value, nil
}

func (s *MemoryStore) SetValue(ctx context.Context, ref NodeRef, value any) error {
	if err := ctx.Err(); err != nil {
		return writeError(ref, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[ref.ID]
	if !ok {
		return writeError(ref, ErrNotFound)
	}
	if n.fault != nil {
		return writeError(ref, n.fault)
	}

	coerced, err := Coerce(value, n.dataType)
	if err != nil {
		return writeError(ref, err)
	}

	n.value = coerced
	for _, fn := range s.watchers {
		fn(n.ref, coerced)
	}
	return nil
}

var _ NodeStore = (*MemoryStore)(nil)

// AddFolder creates an object node with no value at path.
func (s *MemoryStore) AddFolder(path string) NodeRef {
	return s.Add(path, ua.TypeIDNull, nil)
}

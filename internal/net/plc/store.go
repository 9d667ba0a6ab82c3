package plc

import (
	"context"
	"strconv"
	"strings"
)

// NodeRef is a non-owning handle into a NodeStore. ID is whatever the store
// needs to address the node again (an OPC UA NodeID string for Client); Path
// holds the display names from the root down to the node.
type NodeRef struct {
	ID   string
	Path []string
}

// Name returns the node's display name.
func (n NodeRef) Name() string {
	if len(n.Path) == 0 {
		return ""
	}
	return n.Path[len(n.Path)-1]
}

func (n NodeRef) String() string {
	if len(n.Path) == 0 {
		return n.ID
	}
	return strings.Join(n.Path, PATH_SEPARATOR)
}

func (n NodeRef) child(id, name string) NodeRef {
	path := make([]string, len(n.Path), len(n.Path)+1)
	copy(path, n.Path)
	return NodeRef{ID: id, Path: append(path, name)}
}

// NodeStore is the hierarchical namespace of controller signals the
// simulation reads and writes. Implementations must be safe for concurrent
// use: every device loop shares one store.
type NodeStore interface {
	Root(ctx context.Context) (NodeRef, error)
	Children(ctx context.Context, ref NodeRef) ([]NodeRef, error)

	// Child resolves path below ref. Elements may be namespace qualified
	// ("3:Inputs"); unqualified elements match in any namespace.
	Child(ctx context.Context, ref NodeRef, path ...string) (NodeRef, error)

	DisplayName(ctx context.Context, ref NodeRef) (string, error)
	Value(ctx context.Context, ref NodeRef) (any, error)

	// SetValue coerces value to the node's declared data type before
	// writing. Values that do not fit fail with ErrTypeMismatch.
	SetValue(ctx context.Context, ref NodeRef, value any) error
}

// splitQualified splits "<ns>:<name>" path elements.
func splitQualified(elem string) (ns uint16, name string, qualified bool) {
	i := strings.IndexByte(elem, ':')
	if i <= 0 {
		return 0, elem, false
	}

	n, err := strconv.ParseUint(elem[:i], 10, 16)
	if err != nil {
		return 0, elem, false
	}

	return uint16(n), elem[i+1:], true
}

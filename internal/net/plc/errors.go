package plc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnection means the store could not be reached at all. Nothing
	// in the simulation can run without it.
	ErrConnection = errors.New("plc: connection failed")

	ErrNotFound     = errors.New("plc: node not found")
	ErrRead         = errors.New("plc: read failed")
	ErrWrite        = errors.New("plc: write failed")
	ErrTypeMismatch = errors.New("plc: value does not fit declared type")
)

// NodeError reports a failed operation on a single node. It matches both
// its Kind sentinel and the underlying cause with errors.Is.
type NodeError struct {
	Op   string
	Node string
	Kind error
	Err  error
}

func (e *NodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Node, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Node, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func readError(ref NodeRef, err error) error {
	return &NodeError{Op: "read", Node: ref.String(), Kind: ErrRead, Err: err}
}

func writeError(ref NodeRef, err error) error {
	return &NodeError{Op: "write", Node: ref.String(), Kind: ErrWrite, Err: err}
}

func notFound(ref NodeRef, elem string) error {
	return &NodeError{Op: "lookup", Node: ref.String() + PATH_SEPARATOR + elem, Kind: ErrNotFound}
}

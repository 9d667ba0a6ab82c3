package plc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
)

// Client is a NodeStore backed by an OPC UA session. The underlying gopcua
// client multiplexes concurrent requests over one secure channel, so a single
// Client is shared by every device loop.
type Client struct {
	opcua    *opcua.Client
	endpoint string
	timeout  time.Duration

	mu    sync.RWMutex
	types map[string]ua.TypeID
}

// EndpointFromHost turns a bare controller address into an OPC UA endpoint
// on the default port. Full endpoint URLs are returned unchanged.
func EndpointFromHost(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	return fmt.Sprintf("%s://%s:%d", OPCUA_SCHEME, host, OPCUA_PORT)
}

func NewClient(endpoint string, timeout time.Duration, opts ...opcua.Option) (*Client, error) {
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}

	opts = append([]opcua.Option{opcua.RequestTimeout(timeout)}, opts...)
	opcuaClient, err := opcua.NewClient(endpoint, opts...)
	if err != nil {
		return nil, errors.Wrapf(ErrConnection, "[plc.NewClient] %s: %v", endpoint, err)
	}

	return &Client{
		opcua:    opcuaClient,
		endpoint: endpoint,
		timeout:  timeout,
		types:    make(map[string]ua.TypeID),
	}, nil
}

func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.opcua.Connect(ctx); err != nil {
		return errors.Wrapf(ErrConnection, "[plc.Connect] %s: %v", c.endpoint, err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.opcua.Close(ctx)
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Root(ctx context.Context) (NodeRef, error) {
	return NodeRef{
		ID:   ua.NewNumericNodeID(0, id.RootFolder).String(),
		Path: []string{ROOT_NAME},
	}, nil
}

func (c *Client) Children(ctx context.Context, ref NodeRef) ([]NodeRef, error) {
	descs, err := c.browse(ctx, ref)
	if err != nil {
		return nil, err
	}

	return childRefs(ref, descs), nil
}

// childRefs turns browse results into child references, skipping entries
// without a target node.
func childRefs(ref NodeRef, descs []*ua.ReferenceDescription) []NodeRef {
	children := make([]NodeRef, 0, len(descs))
	for _, d := range descs {
		if d == nil || d.NodeID == nil || d.NodeID.NodeID == nil {
			continue
		}
		name := ""
		if d.DisplayName != nil {
			name = d.DisplayName.Text
		}
		children = append(children, ref.child(d.NodeID.NodeID.String(), name))
	}
	return children
}

func (c *Client) Child(ctx context.Context, ref NodeRef, path ...string) (NodeRef, error) {
	current := ref
	for _, elem := range path {
		descs, err := c.browse(ctx, current)
		if err != nil {
			return NodeRef{}, err
		}

		next, ok := matchReference(descs, elem)
		if !ok {
			return NodeRef{}, notFound(current, elem)
		}
		current = current.child(next.NodeID.NodeID.String(), next.DisplayName.Text)
	}
	return current, nil
}

func matchReference(descs []*ua.ReferenceDescription, elem string) (*ua.ReferenceDescription, bool) {
	ns, name, qualified := splitQualified(elem)
	for _, d := range descs {
		if d.NodeID == nil || d.NodeID.NodeID == nil {
			continue
		}

		if qualified {
			if d.BrowseName != nil && d.BrowseName.NamespaceIndex == ns && d.BrowseName.Name == name {
				return d, true
			}
			continue
		}

		if d.BrowseName != nil && d.BrowseName.Name == name {
			return d, true
		}
		if d.DisplayName != nil && d.DisplayName.Text == name {
			return d, true
		}
	}
	return nil, false
}

func (c *Client) browse(ctx context.Context, ref NodeRef) ([]*ua.ReferenceDescription, error) {
	node, err := c.node(ref)
	if err != nil {
		return nil, err
	}

	descs, err := node.References(ctx, id.HierarchicalReferences, ua.BrowseDirectionForward, ua.NodeClassAll, true)
	if err != nil {
		return nil, readError(ref, errors.Wrap(err, "browse"))
	}

	for _, d := range descs {
		if d.DisplayName == nil {
			d.DisplayName = &ua.LocalizedText{}
		}
	}
	return descs, nil
}

func (c *Client) DisplayName(ctx context.Context, ref NodeRef) (string, error) {
	node, err := c.node(ref)
	if err != nil {
		return "", err
	}

	text, err := node.DisplayName(ctx)
	if err != nil {
		return "", readError(ref, err)
	}
	return text.Text, nil
}

func (c *Client) Value(ctx context.Context, ref NodeRef) (any, error) {
	readValue, err := asReadValue(ref)
	if err != nil {
		return nil, readError(ref, err)
	}

	request := ua.ReadRequest{
		NodesToRead:        []*ua.ReadValueID{readValue},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	}

	response, err := c.opcua.Read(ctx, &request)
	if err != nil {
		return nil, readError(ref, err)
	}
	if len(response.Results) == 0 {
		return nil, readError(ref, errors.New("empty read response"))
	}

	result := response.Results[0]
	if result.Status != ua.StatusOK {
		return nil, readError(ref, result.Status)
	}
	if result.Value == nil {
		return nil, nil
	}
	return result.Value.Value(), nil
}

func (c *Client) SetValue(ctx context.Context, ref NodeRef, value any) error {
	typeID, err := c.declaredType(ctx, ref)
	if err != nil {
		return writeError(ref, err)
	}

	coerced, err := Coerce(value, typeID)
	if err != nil {
		return writeError(ref, err)
	}

	writeValue, err := asWriteValue(ref, coerced)
	if err != nil {
		return writeError(ref, err)
	}

	request := ua.WriteRequest{NodesToWrite: []*ua.WriteValue{writeValue}}

	response, err := c.opcua.Write(ctx, &request)
	if err != nil {
		return writeError(ref, err)
	}
	if len(response.Results) == 0 {
		return writeError(ref, errors.New("empty write response"))
	}
	if status := response.Results[0]; status != ua.StatusOK {
		return writeError(ref, status)
	}
	return nil
}

// declaredType reads the node's DataType attribute once and caches it.
func (c *Client) declaredType(ctx context.Context, ref NodeRef) (ua.TypeID, error) {
	c.mu.RLock()
	typeID, ok := c.types[ref.ID]
	c.mu.RUnlock()
	if ok {
		return typeID, nil
	}

	node, err := c.node(ref)
	if err != nil {
		return 0, err
	}

	attr, err := node.Attribute(ctx, ua.AttributeIDDataType)
	if err != nil {
		return 0, errors.Wrap(err, "reading data type")
	}

	dataType, ok := attr.Value().(*ua.NodeID)
	if !ok || dataType == nil {
		return 0, errors.Errorf("unexpected data type attribute %T", attr.Value())
	}

	typeID = ua.TypeID(dataType.IntID())
	c.mu.Lock()
	c.types[ref.ID] = typeID
	c.mu.Unlock()

	return typeID, nil
}

func (c *Client) node(ref NodeRef) (*opcua.Node, error) {
	nodeID, err := ua.ParseNodeID(ref.ID)
	if err != nil {
		return nil, readError(ref, errors.Wrap(err, "parsing node id"))
	}
	return c.opcua.Node(nodeID), nil
}

var _ NodeStore = (*Client)(nil)

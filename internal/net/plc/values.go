package plc

import (
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
)

func asReadValue(ref NodeRef) (*ua.ReadValueID, error) {
	nodeID, err := ua.ParseNodeID(ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[plc.asReadValue] parsing node id")
	}

	return &ua.ReadValueID{
		NodeID:      nodeID,
		AttributeID: ua.AttributeIDValue,
	}, nil
}

// asWriteValue builds the write for an already coerced value. nil becomes
// a null variant.
func asWriteValue(ref NodeRef, value any) (*ua.WriteValue, error) {
	nodeID, err := ua.ParseNodeID(ref.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[plc.asWriteValue] parsing node id")
	}

	variant := &ua.Variant{}
	if value != nil {
		if variant, err = ua.NewVariant(value); err != nil {
			return nil, errors.Wrap(err, "[plc.asWriteValue] creating variant")
		}
	}

	return &ua.WriteValue{
		NodeID:      nodeID,
		AttributeID: ua.AttributeIDValue,
		Value: &ua.DataValue{
			EncodingMask: ua.DataValueValue,
			Value:        variant,
		},
	}, nil
}

package config

import (
	"strings"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"

	"pete/internal/net/plc"
)

var typeIDs = map[string]ua.TypeID{
	"bool":    ua.TypeIDBoolean,
	"boolean": ua.TypeIDBoolean,
	"sbyte":   ua.TypeIDSByte,
	"byte":    ua.TypeIDByte,
	"int16":   ua.TypeIDInt16,
	"uint16":  ua.TypeIDUint16,
	"int32":   ua.TypeIDInt32,
	"uint32":  ua.TypeIDUint32,
	"int64":   ua.TypeIDInt64,
	"uint64":  ua.TypeIDUint64,
	"float":   ua.TypeIDFloat,
	"double":  ua.TypeIDDouble,
	"string":  ua.TypeIDString,
	"folder":  ua.TypeIDNull,
}

// TypeIDByName maps the data type names accepted in memory.nodes to their
// OPC UA type.
func TypeIDByName(name string) (ua.TypeID, bool) {
	id, ok := typeIDs[strings.ToLower(name)]
	return id, ok
}

// Options builds the gopcua client options for the session.
func (p PLCConfig) Options() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(securityMode(p.SecurityMode)),
		opcua.SecurityPolicy(securityPolicy(p.SecurityPolicy)),
		opcua.ApplicationName(p.ApplicationName),
		opcua.AutoReconnect(p.AutoReconnect),
	}

	if p.Username != "" {
		opts = append(opts, opcua.AuthUsername(p.Username, p.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func securityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "sign_and_encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func securityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

// Seed fills store with the configured nodes, coercing each value to its
// declared type the same way a write would.
func (m MemoryConfig) Seed(store *plc.MemoryStore) error {
	for _, n := range m.Nodes {
		typeID, ok := TypeIDByName(n.Type)
		if !ok {
			return errors.Errorf("[config.Seed] %s: unsupported type %q", n.Path, n.Type)
		}

		if typeID == ua.TypeIDNull {
			store.AddFolder(n.Path)
			continue
		}

		value, err := plc.Coerce(n.Value, typeID)
		if err != nil {
			return errors.Wrapf(err, "[config.Seed] %s", n.Path)
		}
		store.Add(n.Path, typeID, value)
	}
	return nil
}

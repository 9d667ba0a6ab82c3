package plc

import "time"

const (
	OPCUA_SCHEME = "opc.tcp"
	OPCUA_PORT   = 4840

	DEFAULT_TIMEOUT  = 4 * time.Second
	DEFAULT_APP_NAME = "pete-sim"

	// Browse path from the address space root to the controller subtrees.
	PATH_OBJECTS = "0:Objects"
	PATH_INPUTS  = "3:Inputs"
	PATH_OUTPUTS = "3:Outputs"

	ROOT_NAME      = "Root"
	PATH_SEPARATOR = "/"
)

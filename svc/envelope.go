package svc

import "github.com/machinefabric/plughost-go/ipc"

// Reserved message tags of the service protocol. Every other tag belongs to
// the application.
const (
	TagRequest  = 0
	TagResponse = 1
)

// IsServiceTag reports whether id is one of the reserved service tags
func IsServiceTag(id int) bool {
	return id == TagRequest || id == TagResponse
}

// Envelope is the payload of service request and response messages.
// In an error response Data holds an encoded ErrorCode.
type Envelope struct {
	CorrelationID string  `json:"correlationId" cbor:"correlationId"`
	ServiceName   string  `json:"serviceName" cbor:"serviceName"`
	IsError       bool    `json:"isError" cbor:"isError"`
	Data          ipc.Raw `json:"data,omitempty" cbor:"data,omitempty"`
}

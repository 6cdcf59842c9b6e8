// Package protogen reconstructs protobuf schema files for a running gRPC
// server by interrogating its reflection services. It understands the
// standard server reflection protocol as well as the Cosmos SDK reflection
// services (interface/implementation listings and the fixed set of
// app descriptor queries), and emits best-effort .proto source for
// everything it discovers.
package protogen

import "strings"

// Catalog is the complete result of interrogating one endpoint. Slices
// preserve the order in which the server returned entries, so that
// synthesized output is reproducible for an unchanged server.
type Catalog struct {
	Services    []ServiceEntry
	Interfaces  []InterfaceBinding
	Descriptors []NamedDescriptor
	// Missing lists reflection methods the server reported as
	// unimplemented. These are expected on many deployments and are
	// surfaced in the final summary, not treated as failures.
	Missing []string
}

// ServiceEntry describes one service discovered through server reflection,
// along with the message and enum types declared in the file that defines it.
type ServiceEntry struct {
	Name     string // fully-qualified service name
	Package  string
	Methods  []MethodEntry
	Messages []MessageEntry
	Enums    []EnumEntry
}

// MethodEntry captures a single RPC signature.
type MethodEntry struct {
	Name            string
	InputType       string // fully-qualified message name
	OutputType      string // fully-qualified message name
	ClientStreaming bool
	ServerStreaming bool
}

// MessageEntry is a flattened view of a message definition.
type MessageEntry struct {
	Name   string
	Fields []FieldEntry
	Nested []MessageEntry
}

// FieldEntry is a single field declaration. Type is the local type label as
// it will appear in emitted source (scalar name, local message or enum name,
// or a map<...> form).
type FieldEntry struct {
	Name     string
	Type     string
	Repeated bool
}

// EnumEntry is a flattened view of an enum definition.
type EnumEntry struct {
	Name   string
	Values []string
}

// InterfaceBinding maps one registered interface to the message types the
// server reports as implementing it.
type InterfaceBinding struct {
	Name            string // fully-qualified interface name
	Implementations []string
}

// NamedDescriptor is the payload of one app descriptor query that the
// server actually answered.
type NamedDescriptor struct {
	Call    DescriptorCall
	Payload *Value
}

// DescriptorCall identifies one of the fixed app descriptor queries exposed
// by cosmos.base.reflection.v2alpha1.ReflectionService. The set is closed;
// new queries require a new constant and a row in descriptorCallInfo.
type DescriptorCall int

const (
	ChainDescriptorCall DescriptorCall = iota
	CodecDescriptorCall
	TxDescriptorCall
	AuthnDescriptorCall
	ConfigurationDescriptorCall
	QueryServicesDescriptorCall
)

// AllDescriptorCalls lists every supported descriptor query, in the order
// they are attempted and emitted.
var AllDescriptorCalls = []DescriptorCall{
	ChainDescriptorCall,
	CodecDescriptorCall,
	TxDescriptorCall,
	AuthnDescriptorCall,
	ConfigurationDescriptorCall,
	QueryServicesDescriptorCall,
}

var descriptorCallInfo = [...]struct {
	method  string
	message string
	file    string
}{
	ChainDescriptorCall:         {"GetChainDescriptor", "ChainDescriptor", "chain.proto"},
	CodecDescriptorCall:         {"GetCodecDescriptor", "CodecDescriptor", "codec.proto"},
	TxDescriptorCall:            {"GetTxDescriptor", "TxDescriptor", "tx.proto"},
	AuthnDescriptorCall:         {"GetAuthnDescriptor", "AuthnDescriptor", "authn.proto"},
	ConfigurationDescriptorCall: {"GetConfigurationDescriptor", "ConfigurationDescriptor", "configuration.proto"},
	QueryServicesDescriptorCall: {"GetQueryServicesDescriptor", "QueryServicesDescriptor", "query_services.proto"},
}

// MethodName returns the bare RPC name of the query.
func (c DescriptorCall) MethodName() string { return descriptorCallInfo[c].method }

// MessageName returns the name of the message synthesized from the query's
// payload.
func (c DescriptorCall) MessageName() string { return descriptorCallInfo[c].message }

// FileName returns the name of the file the synthesized message is written to.
func (c DescriptorCall) FileName() string { return descriptorCallInfo[c].file }

func (c DescriptorCall) String() string {
	return descriptorReflectionService + "/" + c.MethodName()
}

// lastSegment returns the final dot-separated segment of a type or service
// name. Implementation names from the interface registry arrive with a
// leading slash, which is not part of the name.
func lastSegment(name string) string {
	name = strings.TrimPrefix(name, "/")
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// namespaceOf returns the namespace (everything but the last segment) of a
// fully-qualified name. An undotted name has no parent, so the name itself
// is used, lower-cased, to keep output paths non-empty.
func namespaceOf(name string) string {
	name = strings.TrimPrefix(name, "/")
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return strings.ToLower(name)
}

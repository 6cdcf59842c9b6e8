package protogen

import (
	"context"
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	interfaceReflectionService  = "cosmos.base.reflection.v1alpha1.ReflectionService"
	descriptorReflectionService = "cosmos.base.reflection.v2alpha1.ReflectionService"
)

// Source provides access to the reflection dialects of a single server. All
// methods issue (or depend on) remote calls and report remote failures
// verbatim, so callers can distinguish unimplemented methods from other
// errors via the gRPC status code.
type Source interface {
	// ListServices returns the fully-qualified names of all services the
	// server exposes through standard server reflection.
	ListServices() ([]string, error)
	// GetService resolves one service and decodes the file that defines it.
	GetService(name string) (*ServiceEntry, error)
	// ListInterfaces returns all interface names registered with the
	// server's interface registry.
	ListInterfaces() ([]string, error)
	// ListImplementations returns the names of the message types
	// implementing the given interface.
	ListImplementations(interfaceName string) ([]string, error)
	// GetDescriptor performs one of the fixed app descriptor queries and
	// decodes its payload.
	GetDescriptor(call DescriptorCall) (*Value, error)
	// Reset releases the underlying reflection stream. The source remains
	// usable; a new stream is opened on demand.
	Reset()
}

// SourceFromServer creates a Source backed by the reflection services of the
// server on the other end of the given connection.
func SourceFromServer(ctx context.Context, cc *grpc.ClientConn) Source {
	return &serverSource{
		ctx:  ctx,
		refl: grpcreflect.NewClient(ctx, reflectpb.NewServerReflectionClient(cc)),
		stub: grpcdynamic.NewStub(cc),
	}
}

type serverSource struct {
	ctx  context.Context
	refl *grpcreflect.Client
	stub grpcdynamic.Stub

	// lazily built locally (the interface registry's request and response
	// shapes are fixed, so this dialect works even when the server does not
	// support standard reflection)
	ifaceSvc *desc.ServiceDescriptor
	// lazily resolved through standard reflection (the descriptor queries'
	// response shapes vary by server)
	descSvc *desc.ServiceDescriptor
}

func (s *serverSource) ListServices() ([]string, error) {
	return s.refl.ListServices()
}

func (s *serverSource) GetService(name string) (*ServiceEntry, error) {
	sd, err := s.refl.ResolveService(name)
	if err != nil {
		return nil, err
	}
	return serviceEntryFromDescriptor(sd), nil
}

func (s *serverSource) ListInterfaces() ([]string, error) {
	resp, err := s.invokeInterfaceMethod("ListAllInterfaces", nil)
	if err != nil {
		return nil, err
	}
	return stringSliceField(resp, "interface_names")
}

func (s *serverSource) ListImplementations(interfaceName string) ([]string, error) {
	resp, err := s.invokeInterfaceMethod("ListImplementations", func(req *dynamic.Message) error {
		return req.TrySetFieldByName("interface_name", interfaceName)
	})
	if err != nil {
		return nil, err
	}
	return stringSliceField(resp, "implementation_message_names")
}

func (s *serverSource) GetDescriptor(call DescriptorCall) (*Value, error) {
	if s.descSvc == nil {
		sd, err := s.refl.ResolveService(descriptorReflectionService)
		if err != nil {
			return nil, err
		}
		s.descSvc = sd
	}
	md := s.descSvc.FindMethodByName(call.MethodName())
	if md == nil {
		return nil, fmt.Errorf("service %s does not define method %s", descriptorReflectionService, call.MethodName())
	}
	resp, err := s.stub.InvokeRpc(s.ctx, md, dynamic.NewMessage(md.GetInputType()))
	if err != nil {
		return nil, err
	}
	dm, err := dynamic.AsDynamicMessage(resp)
	if err != nil {
		return nil, fmt.Errorf("decoding %s response: %v", call.MethodName(), err)
	}
	return valueFromMessage(dm), nil
}

func (s *serverSource) Reset() {
	s.refl.Reset()
}

func (s *serverSource) invokeInterfaceMethod(method string, fill func(*dynamic.Message) error) (proto.Message, error) {
	if s.ifaceSvc == nil {
		sd, err := buildInterfaceReflectionService()
		if err != nil {
			return nil, err
		}
		s.ifaceSvc = sd
	}
	md := s.ifaceSvc.FindMethodByName(method)
	req := dynamic.NewMessage(md.GetInputType())
	if fill != nil {
		if err := fill(req); err != nil {
			return nil, err
		}
	}
	return s.stub.InvokeRpc(s.ctx, md, req)
}

// buildInterfaceReflectionService constructs the descriptor for the
// interface registry service. The shapes are part of the protocol, so they
// are declared here instead of being fetched from the server.
func buildInterfaceReflectionService() (*desc.ServiceDescriptor, error) {
	listIfacesReq := builder.NewMessage("ListAllInterfacesRequest")
	listIfacesResp := builder.NewMessage("ListAllInterfacesResponse").
		AddField(builder.NewField("interface_names", builder.FieldTypeString()).SetRepeated())
	listImplsReq := builder.NewMessage("ListImplementationsRequest").
		AddField(builder.NewField("interface_name", builder.FieldTypeString()))
	listImplsResp := builder.NewMessage("ListImplementationsResponse").
		AddField(builder.NewField("implementation_message_names", builder.FieldTypeString()).SetRepeated())

	svc := builder.NewService("ReflectionService").
		AddMethod(builder.NewMethod("ListAllInterfaces",
			builder.RpcTypeMessage(listIfacesReq, false),
			builder.RpcTypeMessage(listIfacesResp, false))).
		AddMethod(builder.NewMethod("ListImplementations",
			builder.RpcTypeMessage(listImplsReq, false),
			builder.RpcTypeMessage(listImplsResp, false)))

	fd, err := builder.NewFile("cosmos/base/reflection/v1alpha1/reflection.proto").
		SetProto3(true).
		SetPackageName("cosmos.base.reflection.v1alpha1").
		AddMessage(listIfacesReq).
		AddMessage(listIfacesResp).
		AddMessage(listImplsReq).
		AddMessage(listImplsResp).
		AddService(svc).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building interface reflection descriptor: %v", err)
	}
	return fd.FindService(interfaceReflectionService), nil
}

func stringSliceField(m proto.Message, name string) ([]string, error) {
	dm, err := dynamic.AsDynamicMessage(m)
	if err != nil {
		return nil, err
	}
	raw, err := dm.TryGetFieldByName(name)
	if err != nil {
		return nil, err
	}
	vals, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s is not repeated", name)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %s has non-string element %T", name, v)
		}
		out = append(out, str)
	}
	return out, nil
}

func serviceEntryFromDescriptor(sd *desc.ServiceDescriptor) *ServiceEntry {
	fd := sd.GetFile()
	entry := &ServiceEntry{
		Name:    sd.GetFullyQualifiedName(),
		Package: fd.GetPackage(),
	}
	if entry.Package == "" {
		entry.Package = namespaceOf(entry.Name)
	}
	for _, m := range sd.GetMethods() {
		entry.Methods = append(entry.Methods, MethodEntry{
			Name:            m.GetName(),
			InputType:       m.GetInputType().GetFullyQualifiedName(),
			OutputType:      m.GetOutputType().GetFullyQualifiedName(),
			ClientStreaming: m.IsClientStreaming(),
			ServerStreaming: m.IsServerStreaming(),
		})
	}
	for _, mt := range fd.GetMessageTypes() {
		entry.Messages = append(entry.Messages, messageEntryFromDescriptor(mt))
	}
	for _, et := range fd.GetEnumTypes() {
		entry.Enums = append(entry.Enums, enumEntryFromDescriptor(et))
	}
	return entry
}

func messageEntryFromDescriptor(md *desc.MessageDescriptor) MessageEntry {
	entry := MessageEntry{Name: md.GetName()}
	for _, fd := range md.GetFields() {
		entry.Fields = append(entry.Fields, FieldEntry{
			Name:     fd.GetName(),
			Type:     fieldTypeLabel(fd),
			Repeated: fd.IsRepeated() && !fd.IsMap(),
		})
	}
	for _, nested := range md.GetNestedMessageTypes() {
		if nested.IsMapEntry() {
			continue
		}
		entry.Nested = append(entry.Nested, messageEntryFromDescriptor(nested))
	}
	return entry
}

func enumEntryFromDescriptor(ed *desc.EnumDescriptor) EnumEntry {
	entry := EnumEntry{Name: ed.GetName()}
	for _, v := range ed.GetValues() {
		entry.Values = append(entry.Values, v.GetName())
	}
	return entry
}

var scalarTypeLabels = map[descriptorpb.FieldDescriptorProto_Type]string{
	descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:   "double",
	descriptorpb.FieldDescriptorProto_TYPE_FLOAT:    "float",
	descriptorpb.FieldDescriptorProto_TYPE_INT64:    "int64",
	descriptorpb.FieldDescriptorProto_TYPE_UINT64:   "uint64",
	descriptorpb.FieldDescriptorProto_TYPE_INT32:    "int32",
	descriptorpb.FieldDescriptorProto_TYPE_FIXED64:  "fixed64",
	descriptorpb.FieldDescriptorProto_TYPE_FIXED32:  "fixed32",
	descriptorpb.FieldDescriptorProto_TYPE_BOOL:     "bool",
	descriptorpb.FieldDescriptorProto_TYPE_STRING:   "string",
	descriptorpb.FieldDescriptorProto_TYPE_BYTES:    "bytes",
	descriptorpb.FieldDescriptorProto_TYPE_UINT32:   "uint32",
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED32: "sfixed32",
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED64: "sfixed64",
	descriptorpb.FieldDescriptorProto_TYPE_SINT32:   "sint32",
	descriptorpb.FieldDescriptorProto_TYPE_SINT64:   "sint64",
}

// fieldTypeLabel renders a field's type as it will appear in emitted source.
// Message and enum references are truncated to their last segment so they
// line up with the local definitions emitted alongside; cross-package
// references therefore stay unqualified.
func fieldTypeLabel(fd *desc.FieldDescriptor) string {
	if fd.IsMap() {
		return fmt.Sprintf("map<%s, %s>", fieldTypeLabel(fd.GetMapKeyType()), fieldTypeLabel(fd.GetMapValueType()))
	}
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, descriptorpb.FieldDescriptorProto_TYPE_GROUP:
		return lastSegment(fd.GetMessageType().GetFullyQualifiedName())
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		return lastSegment(fd.GetEnumType().GetFullyQualifiedName())
	default:
		if label, ok := scalarTypeLabels[fd.GetType()]; ok {
			return label
		}
		return "bytes"
	}
}

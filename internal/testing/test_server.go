// Package testing provides an in-process gRPC server for protogen's tests:
// the standard interop test service plus fake Cosmos reflection services
// backed by dynamically built descriptors.
package testing

import (
	"context"
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// ChainID is the chain id reported by the fake GetChainDescriptor call.
const ChainID = "protogen-test-1"

// InterfaceFixtures is the registry served by the fake interface reflection
// service, in the order ListAllInterfaces returns it.
var InterfaceFixtures = []struct {
	Name            string
	Implementations []string
}{
	{"cosmos.gov.v1beta1.Content", []string{"/cosmos.gov.v1beta1.TextProposal", "/cosmos.params.v1beta1.ParameterChangeProposal"}},
	{"cosmos.crypto.PubKey", []string{"/cosmos.crypto.secp256k1.PubKey"}},
}

// TestServer implements a subset of the gRPC interop test service, just
// enough for reflection-driven discovery to have something to find.
type TestServer struct {
	grpc_testing.UnimplementedTestServiceServer
}

// EmptyCall is one empty request followed by one empty response.
func (TestServer) EmptyCall(_ context.Context, req *grpc_testing.Empty) (*grpc_testing.Empty, error) {
	return req, nil
}

// UnaryCall is one request followed by one response. The server returns the
// client payload as-is.
func (TestServer) UnaryCall(_ context.Context, req *grpc_testing.SimpleRequest) (*grpc_testing.SimpleResponse, error) {
	return &grpc_testing.SimpleResponse{Payload: req.Payload}, nil
}

// RegisterCosmosReflection registers fake Cosmos reflection services on the
// given server: the v1alpha1 interface registry serving InterfaceFixtures,
// and the v2alpha1 descriptor service answering only GetChainDescriptor (the
// other five queries report unimplemented, as many deployments do). The
// services' file descriptors are added to the global registry so that
// standard server reflection can describe them.
func RegisterCosmosReflection(s *grpc.Server) error {
	ifaceFd, err := buildInterfaceFile()
	if err != nil {
		return err
	}
	descFd, err := buildDescriptorFile()
	if err != nil {
		return err
	}
	for _, fd := range []*desc.FileDescriptor{ifaceFd, descFd} {
		if err := protoregistry.GlobalFiles.RegisterFile(fd.UnwrapFile()); err != nil {
			return fmt.Errorf("registering %s: %v", fd.GetName(), err)
		}
	}

	ifaceSvc := ifaceFd.GetServices()[0]
	registerDynamicService(s, ifaceSvc, map[string]dynamicHandler{
		"ListAllInterfaces": func(*dynamic.Message) (proto.Message, error) {
			resp := dynamic.NewMessage(ifaceSvc.FindMethodByName("ListAllInterfaces").GetOutputType())
			for _, fixture := range InterfaceFixtures {
				if err := resp.TryAddRepeatedFieldByName("interface_names", fixture.Name); err != nil {
					return nil, err
				}
			}
			return resp, nil
		},
		"ListImplementations": func(req *dynamic.Message) (proto.Message, error) {
			name, err := req.TryGetFieldByName("interface_name")
			if err != nil {
				return nil, err
			}
			resp := dynamic.NewMessage(ifaceSvc.FindMethodByName("ListImplementations").GetOutputType())
			for _, fixture := range InterfaceFixtures {
				if fixture.Name != name {
					continue
				}
				for _, impl := range fixture.Implementations {
					if err := resp.TryAddRepeatedFieldByName("implementation_message_names", impl); err != nil {
						return nil, err
					}
				}
			}
			return resp, nil
		},
	})

	descSvc := descFd.GetServices()[0]
	registerDynamicService(s, descSvc, map[string]dynamicHandler{
		"GetChainDescriptor": func(*dynamic.Message) (proto.Message, error) {
			chainMd := descFd.FindMessage("cosmos.base.reflection.v2alpha1.ChainDescriptor")
			chain := dynamic.NewMessage(chainMd)
			if err := chain.TrySetFieldByName("id", ChainID); err != nil {
				return nil, err
			}
			resp := dynamic.NewMessage(descSvc.FindMethodByName("GetChainDescriptor").GetOutputType())
			if err := resp.TrySetFieldByName("chain", chain); err != nil {
				return nil, err
			}
			return resp, nil
		},
	})
	return nil
}

type dynamicHandler func(req *dynamic.Message) (proto.Message, error)

// registerDynamicService registers the subset of a service's methods that
// have handlers. Calls to methods without a handler get an Unimplemented
// status from the server, which is exactly the degraded behavior the
// collector has to cope with.
func registerDynamicService(s *grpc.Server, sd *desc.ServiceDescriptor, handlers map[string]dynamicHandler) {
	gsd := grpc.ServiceDesc{
		ServiceName: sd.GetFullyQualifiedName(),
		HandlerType: (*interface{})(nil),
		Metadata:    sd.GetFile().GetName(),
	}
	for _, md := range sd.GetMethods() {
		handler, ok := handlers[md.GetName()]
		if !ok {
			continue
		}
		md := md
		gsd.Methods = append(gsd.Methods, grpc.MethodDesc{
			MethodName: md.GetName(),
			Handler: func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				req := dynamic.NewMessage(md.GetInputType())
				if err := dec(req); err != nil {
					return nil, err
				}
				return handler(req)
			},
		})
	}
	s.RegisterService(&gsd, struct{}{})
}

func buildInterfaceFile() (*desc.FileDescriptor, error) {
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

	return builder.NewFile("cosmos/base/reflection/v1alpha1/reflection.proto").
		SetProto3(true).
		SetPackageName("cosmos.base.reflection.v1alpha1").
		AddMessage(listIfacesReq).
		AddMessage(listIfacesResp).
		AddMessage(listImplsReq).
		AddMessage(listImplsResp).
		AddService(svc).
		Build()
}

func buildDescriptorFile() (*desc.FileDescriptor, error) {
	chain := builder.NewMessage("ChainDescriptor").
		AddField(builder.NewField("id", builder.FieldTypeString()))

	file := builder.NewFile("cosmos/base/reflection/v2alpha1/reflection.proto").
		SetProto3(true).
		SetPackageName("cosmos.base.reflection.v2alpha1").
		AddMessage(chain)

	svc := builder.NewService("ReflectionService")
	for _, name := range []string{
		"GetChainDescriptor",
		"GetCodecDescriptor",
		"GetTxDescriptor",
		"GetAuthnDescriptor",
		"GetConfigurationDescriptor",
		"GetQueryServicesDescriptor",
	} {
		req := builder.NewMessage(name + "Request")
		resp := builder.NewMessage(name + "Response")
		if name == "GetChainDescriptor" {
			resp.AddField(builder.NewField("chain", builder.FieldTypeMessage(chain)))
		}
		file.AddMessage(req).AddMessage(resp)
		svc.AddMethod(builder.NewMethod(name,
			builder.RpcTypeMessage(req, false),
			builder.RpcTypeMessage(resp, false)))
	}
	return file.AddService(svc).Build()
}

package protogen_test

import (
	"context"
	"io"
	"net"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	. "github.com/Cordtus/protogen"
	protogentesting "github.com/Cordtus/protogen/internal/testing"
)

var (
	cc     *grpc.ClientConn
	source Source
)

func TestMain(m *testing.M) {
	svr := grpc.NewServer()
	grpc_testing.RegisterTestServiceServer(svr, protogentesting.TestServer{})
	if err := protogentesting.RegisterCosmosReflection(svr); err != nil {
		panic(err)
	}
	reflection.Register(svr)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	go svr.Serve(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	cc, err = BlockingDial(ctx, "tcp", l.Addr().String(), nil)
	cancel()
	if err != nil {
		panic(err)
	}
	source = SourceFromServer(context.Background(), cc)

	code := m.Run()

	source.Reset()
	cc.Close()
	svr.Stop()
	os.Exit(code)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestListServices(t *testing.T) {
	svcs, err := source.ListServices()
	if err != nil {
		t.Fatalf("failed to list services: %v", err)
	}
	for _, want := range []string{
		"grpc.testing.TestService",
		"cosmos.base.reflection.v1alpha1.ReflectionService",
		"cosmos.base.reflection.v2alpha1.ReflectionService",
	} {
		if !containsString(svcs, want) {
			t.Errorf("service list missing %q: %v", want, svcs)
		}
	}
}

func TestGetService(t *testing.T) {
	entry, err := source.GetService("grpc.testing.TestService")
	if err != nil {
		t.Fatalf("failed to resolve service: %v", err)
	}
	if entry.Name != "grpc.testing.TestService" || entry.Package != "grpc.testing" {
		t.Errorf("entry identity = %q / %q", entry.Name, entry.Package)
	}

	var unary, duplex bool
	for _, m := range entry.Methods {
		switch m.Name {
		case "UnaryCall":
			unary = true
			if m.InputType != "grpc.testing.SimpleRequest" || m.OutputType != "grpc.testing.SimpleResponse" {
				t.Errorf("UnaryCall types = %q -> %q", m.InputType, m.OutputType)
			}
			if m.ClientStreaming || m.ServerStreaming {
				t.Errorf("UnaryCall should not stream")
			}
		case "FullDuplexCall":
			duplex = true
			if !m.ClientStreaming || !m.ServerStreaming {
				t.Errorf("FullDuplexCall should stream both ways")
			}
		}
	}
	if !unary || !duplex {
		t.Errorf("methods not discovered: %+v", entry.Methods)
	}
}

func TestGetServiceDecodesMessages(t *testing.T) {
	entry, err := source.GetService("cosmos.base.reflection.v2alpha1.ReflectionService")
	if err != nil {
		t.Fatalf("failed to resolve service: %v", err)
	}
	var chain, resp bool
	for _, msg := range entry.Messages {
		switch msg.Name {
		case "ChainDescriptor":
			chain = true
			if len(msg.Fields) != 1 || msg.Fields[0].Name != "id" || msg.Fields[0].Type != "string" {
				t.Errorf("ChainDescriptor fields = %+v", msg.Fields)
			}
		case "GetChainDescriptorResponse":
			resp = true
			if len(msg.Fields) != 1 || msg.Fields[0].Type != "ChainDescriptor" {
				t.Errorf("response fields = %+v", msg.Fields)
			}
		}
	}
	if !chain || !resp {
		t.Errorf("messages not decoded: %+v", entry.Messages)
	}
}

func TestListInterfacesAndImplementations(t *testing.T) {
	ifaces, err := source.ListInterfaces()
	if err != nil {
		t.Fatalf("failed to list interfaces: %v", err)
	}
	var wantIfaces []string
	for _, fixture := range protogentesting.InterfaceFixtures {
		wantIfaces = append(wantIfaces, fixture.Name)
	}
	if !reflect.DeepEqual(ifaces, wantIfaces) {
		t.Fatalf("interfaces = %v, want %v", ifaces, wantIfaces)
	}

	for _, fixture := range protogentesting.InterfaceFixtures {
		impls, err := source.ListImplementations(fixture.Name)
		if err != nil {
			t.Fatalf("failed to list implementations of %s: %v", fixture.Name, err)
		}
		if !reflect.DeepEqual(impls, fixture.Implementations) {
			t.Errorf("implementations of %s = %v, want %v", fixture.Name, impls, fixture.Implementations)
		}
	}
}

func TestGetChainDescriptor(t *testing.T) {
	v, err := source.GetDescriptor(ChainDescriptorCall)
	if err != nil {
		t.Fatalf("failed to get chain descriptor: %v", err)
	}
	chain := v.Field("chain")
	if chain == nil || chain.Kind != KindMap {
		t.Fatalf("payload = %+v, want chain mapping", v)
	}
	if id := chain.Field("id"); id == nil || id.Str != protogentesting.ChainID {
		t.Errorf("chain.id = %+v, want %q", id, protogentesting.ChainID)
	}
}

func TestGetDescriptorUnimplemented(t *testing.T) {
	_, err := source.GetDescriptor(CodecDescriptorCall)
	if err == nil {
		t.Fatal("expected error for unimplemented descriptor query")
	}
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("status = %v, want Unimplemented", status.Code(err))
	}
}

func TestCollectAndSynthesize(t *testing.T) {
	cat := NewCollector(source, quietLogger()).Collect()

	files := Synthesize(cat)
	paths := make(map[string]string, len(files))
	for _, f := range files {
		paths[f.Path()] = f.Text
	}

	for _, want := range []string{
		"grpc/testing/testservice.proto",
		"cosmos/gov/v1beta1/content.proto",
		"cosmos/base/reflection/v2alpha1/chain.proto",
		"cosmos/base/query/v1beta1/pagination.proto",
		"google/protobuf/any.proto",
	} {
		if _, ok := paths[want]; !ok {
			t.Errorf("no file synthesized at %q", want)
		}
	}

	if text := paths["cosmos/base/reflection/v2alpha1/chain.proto"]; !strings.Contains(text, "string id = 1;") {
		t.Errorf("chain descriptor not flattened:\n%s", text)
	}

	// the five unanswered descriptor queries end up in the summary
	var missingDescriptors int
	for _, m := range cat.Missing {
		if strings.Contains(m, "v2alpha1.ReflectionService/") {
			missingDescriptors++
		}
	}
	if missingDescriptors != len(AllDescriptorCalls)-1 {
		t.Errorf("missing = %v", cat.Missing)
	}

	// and the whole output lands on disk
	root := t.TempDir() + "/protos"
	if err := Write(files, root); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := os.Stat(root + "/grpc/testing/testservice.proto"); err != nil {
		t.Errorf("service file not written: %v", err)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

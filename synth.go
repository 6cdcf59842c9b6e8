package protogen

import (
	"fmt"
	"path/filepath"
	"strings"
)

// File is one synthesized schema file. Package doubles as the directory
// path the file is written under (dots become path separators).
type File struct {
	Package string
	Name    string
	Text    string
}

// Path returns the file's location relative to an output root.
func (f File) Path() string {
	return filepath.Join(append(strings.Split(f.Package, "."), f.Name)...)
}

// Synthesize converts a catalog into proto source files. It is a pure
// function of the catalog: identical input yields byte-identical output, and
// files appear in catalog order followed by the fixed auxiliary bundle.
func Synthesize(cat *Catalog) []File {
	var files []File
	for i := range cat.Services {
		files = append(files, serviceFile(&cat.Services[i]))
	}
	for i := range cat.Interfaces {
		files = append(files, interfaceFile(&cat.Interfaces[i]))
	}
	for i := range cat.Descriptors {
		files = append(files, descriptorFile(&cat.Descriptors[i]))
	}
	return append(files, AuxiliaryFiles()...)
}

// serviceFile re-emits a reflected service: its RPCs, then every message and
// enum from the file that declared it. Field numbers are assigned
// sequentially in declaration order; reflection metadata is the only source
// here, so original wire numbering is not preserved.
func serviceFile(svc *ServiceEntry) File {
	var b strings.Builder
	writeHeader(&b, svc.Package)

	fmt.Fprintf(&b, "\nservice %s {\n", lastSegment(svc.Name))
	for _, m := range svc.Methods {
		fmt.Fprintf(&b, "  rpc %s(%s) returns (%s);\n",
			m.Name,
			rpcTypeRef(m.InputType, m.ClientStreaming),
			rpcTypeRef(m.OutputType, m.ServerStreaming))
	}
	b.WriteString("}\n")

	for i := range svc.Messages {
		writeMessage(&b, &svc.Messages[i], "")
	}
	for _, e := range svc.Enums {
		writeEnum(&b, e)
	}

	return File{
		Package: svc.Package,
		Name:    strings.ToLower(lastSegment(svc.Name)) + ".proto",
		Text:    b.String(),
	}
}

// interfaceFile renders an interface binding as a service with one RPC per
// implementation. The interface registry carries no field-level detail, so
// request and response messages are placeholders holding a single
// pagination field. Implementations whose local name repeats an earlier one
// are dropped to keep names within the file unique.
func interfaceFile(binding *InterfaceBinding) File {
	name := lastSegment(binding.Name)
	seen := make(map[string]bool)
	var impls []string
	for _, impl := range binding.Implementations {
		local := lastSegment(impl)
		if seen[local] {
			continue
		}
		seen[local] = true
		impls = append(impls, local)
	}

	var b strings.Builder
	writeHeader(&b, namespaceOf(binding.Name))

	fmt.Fprintf(&b, "\nservice %s {\n", name)
	for _, impl := range impls {
		fmt.Fprintf(&b, "  rpc %s(%sRequest) returns (%sResponse);\n", impl, impl, impl)
	}
	b.WriteString("}\n")

	for _, impl := range impls {
		fmt.Fprintf(&b, "\nmessage %sRequest {\n  PageRequest pagination = 1;\n}\n", impl)
		fmt.Fprintf(&b, "\nmessage %sResponse {\n  PageResponse pagination = 1;\n}\n", impl)
	}

	return File{
		Package: namespaceOf(binding.Name),
		Name:    strings.ToLower(name) + ".proto",
		Text:    b.String(),
	}
}

// descriptorFile flattens an app descriptor payload into a message
// definition, picking field types from the runtime shape of each value.
func descriptorFile(d *NamedDescriptor) File {
	var b strings.Builder
	writeHeader(&b, "cosmos.base.reflection.v2alpha1")
	writeValueMessage(&b, d.Call.MessageName(), d.Payload, "")
	return File{
		Package: "cosmos.base.reflection.v2alpha1",
		Name:    d.Call.FileName(),
		Text:    b.String(),
	}
}

func writeHeader(b *strings.Builder, pkg string) {
	b.WriteString("syntax = \"proto3\";\n\n")
	fmt.Fprintf(b, "package %s;\n", pkg)
}

func rpcTypeRef(typeName string, streaming bool) string {
	if streaming {
		return "stream " + lastSegment(typeName)
	}
	return lastSegment(typeName)
}

func writeMessage(b *strings.Builder, m *MessageEntry, indent string) {
	if len(m.Fields) == 0 && len(m.Nested) == 0 {
		fmt.Fprintf(b, "\n%smessage %s {}\n", indent, m.Name)
		return
	}
	fmt.Fprintf(b, "\n%smessage %s {\n", indent, m.Name)
	for i, f := range m.Fields {
		label := ""
		if f.Repeated {
			label = "repeated "
		}
		fmt.Fprintf(b, "%s  %s%s %s = %d;\n", indent, label, f.Type, f.Name, i+1)
	}
	for i := range m.Nested {
		writeMessage(b, &m.Nested[i], indent+"  ")
	}
	fmt.Fprintf(b, "%s}\n", indent)
}

func writeEnum(b *strings.Builder, e EnumEntry) {
	fmt.Fprintf(b, "\nenum %s {\n", e.Name)
	for i, v := range e.Values {
		fmt.Fprintf(b, "  %s = %d;\n", v, i)
	}
	b.WriteString("}\n")
}

// writeValueMessage emits one message per mapping level of a Value tree.
// Field numbers restart at 1 in every nested message.
func writeValueMessage(b *strings.Builder, name string, v *Value, indent string) {
	if v == nil || len(v.Fields) == 0 {
		fmt.Fprintf(b, "\n%smessage %s {}\n", indent, name)
		return
	}
	fmt.Fprintf(b, "\n%smessage %s {\n", indent, name)
	type nested struct {
		name  string
		value *Value
	}
	var children []nested
	for i, f := range v.Fields {
		num := i + 1
		switch f.Value.Kind {
		case KindString:
			fmt.Fprintf(b, "%s  string %s = %d;\n", indent, f.Name, num)
		case KindInt:
			fmt.Fprintf(b, "%s  int64 %s = %d;\n", indent, f.Name, num)
		case KindBool:
			fmt.Fprintf(b, "%s  bool %s = %d;\n", indent, f.Name, num)
		case KindMap:
			typeName := camelCase(f.Name)
			fmt.Fprintf(b, "%s  %s %s = %d;\n", indent, typeName, f.Name, num)
			children = append(children, nested{name: typeName, value: f.Value})
		default:
			fmt.Fprintf(b, "%s  Any %s = %d;\n", indent, f.Name, num)
		}
	}
	for _, child := range children {
		writeValueMessage(b, child.name, child.value, indent+"  ")
	}
	fmt.Fprintf(b, "%s}\n", indent)
}

// camelCase turns a snake_case field name into a message type name.
func camelCase(name string) string {
	parts := strings.Split(name, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// AuxiliaryFiles returns the fixed schema fragments included in every run so
// that cross-references in generated files resolve to something concrete.
func AuxiliaryFiles() []File {
	return []File{
		{
			Package: "cosmos.base.query.v1beta1",
			Name:    "pagination.proto",
			Text:    paginationProto,
		},
		{
			Package: "google.protobuf",
			Name:    "any.proto",
			Text:    anyProto,
		},
	}
}

const paginationProto = `syntax = "proto3";

package cosmos.base.query.v1beta1;

message PageRequest {
  bytes key = 1;
  uint64 offset = 2;
  uint64 limit = 3;
  bool count_total = 4;
  bool reverse = 5;
}

message PageResponse {
  bytes next_key = 1;
  uint64 total = 2;
}
`

const anyProto = `syntax = "proto3";

package google.protobuf;

message Any {
  string type_url = 1;
  bytes value = 2;
}
`

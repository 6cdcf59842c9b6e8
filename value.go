package protogen

import (
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
)

// ValueKind discriminates the closed set of shapes an app descriptor payload
// can take. Anything the set does not model (repeated fields, floating point
// values, enums) is KindOther and synthesized as a google.protobuf.Any field.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindBool
	KindMap
	KindOther
)

// Value is one node of a decoded app descriptor payload.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Bool bool
	// Fields is populated for KindMap only, in field declaration order.
	Fields []ValueField
}

// ValueField is a named member of a KindMap value.
type ValueField struct {
	Name  string
	Value *Value
}

// Field returns the named member of a KindMap value, or nil.
func (v *Value) Field(name string) *Value {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}

// valueFromMessage converts a decoded message into a Value tree. Only fields
// actually present on the wire are retained.
func valueFromMessage(dm *dynamic.Message) *Value {
	v := &Value{Kind: KindMap}
	for _, fd := range dm.GetMessageDescriptor().GetFields() {
		if !dm.HasField(fd) {
			continue
		}
		v.Fields = append(v.Fields, ValueField{
			Name:  fd.GetName(),
			Value: valueFromField(fd, dm.GetField(fd)),
		})
	}
	return v
}

func valueFromField(fd *desc.FieldDescriptor, raw interface{}) *Value {
	if fd.IsRepeated() {
		return &Value{Kind: KindOther}
	}
	switch val := raw.(type) {
	case string:
		return &Value{Kind: KindString, Str: val}
	case bool:
		return &Value{Kind: KindBool, Bool: val}
	case int32:
		return &Value{Kind: KindInt, Int: int64(val)}
	case int64:
		return &Value{Kind: KindInt, Int: val}
	case uint32:
		return &Value{Kind: KindInt, Int: int64(val)}
	case uint64:
		return &Value{Kind: KindInt, Int: int64(val)}
	case *dynamic.Message:
		return valueFromMessage(val)
	default:
		return &Value{Kind: KindOther}
	}
}

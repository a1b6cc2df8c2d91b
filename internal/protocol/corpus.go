package protocol

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Field is one field of a message schema.
type Field struct {
	Name     string
	Number   protowire.Number
	Kind     protoreflect.Kind
	Repeated bool
	// Message is the full name of the field's message type, for message and
	// group fields.
	Message string
}

// WireType returns the wire type a non-packed value of the field uses.
func (f Field) WireType() protowire.Type {
	switch f.Kind {
	case protoreflect.BoolKind, protoreflect.EnumKind,
		protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Uint32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Uint64Kind:
		return protowire.VarintType
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return protowire.Fixed32Type
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return protowire.Fixed64Type
	case protoreflect.GroupKind:
		return protowire.StartGroupType
	default:
		return protowire.BytesType
	}
}

// packable reports whether repeated values may arrive as one packed
// length-delimited run.
func (f Field) packable() bool {
	if !f.Repeated {
		return false
	}
	switch f.WireType() {
	case protowire.VarintType, protowire.Fixed32Type, protowire.Fixed64Type:
		return true
	default:
		return false
	}
}

// Schema is the field layout of one named message.
type Schema struct {
	Name   string
	Fields []Field

	byNumber map[protowire.Number]Field
}

func (s *Schema) index() {
	s.byNumber = make(map[protowire.Number]Field, len(s.Fields))
	for _, f := range s.Fields {
		s.byNumber[f.Number] = f
	}
}

// Corpus is an immutable, ordered set of message schemas. It is built once
// at startup and shared read-only afterwards.
type Corpus struct {
	candidates []*Schema
	byName     map[string]*Schema
}

// NewCorpus builds a corpus from schemas, keeping their order.
func NewCorpus(schemas ...Schema) *Corpus {
	c := &Corpus{byName: make(map[string]*Schema, len(schemas))}
	for i := range schemas {
		s := schemas[i]
		s.Fields = append([]Field(nil), s.Fields...)
		s.index()
		c.add(&s, true)
	}
	return c
}

// LoadCorpus builds a corpus from a serialized FileDescriptorSet, as written
// by `protoc --descriptor_set_out` or `buf build -o`. Messages are enumerated
// file by file in the order of the set, each message followed by its nested
// messages. Map entry messages are resolvable but never classification
// candidates.
func LoadCorpus(data []byte) (*Corpus, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode descriptor set: %w", err)
	}
	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("resolve descriptor set: %w", err)
	}

	c := &Corpus{byName: make(map[string]*Schema)}
	for _, fdp := range set.GetFile() {
		fd, err := files.FindFileByPath(fdp.GetName())
		if err != nil {
			return nil, fmt.Errorf("find file %q: %w", fdp.GetName(), err)
		}
		c.addMessages(fd.Messages())
	}
	return c, nil
}

// LoadCorpusFile reads and loads a descriptor set from path.
func LoadCorpusFile(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor set (%s): %w", path, err)
	}
	c, err := LoadCorpus(data)
	if err != nil {
		return nil, fmt.Errorf("load descriptor set (%s): %w", path, err)
	}
	return c, nil
}

func (c *Corpus) addMessages(msgs protoreflect.MessageDescriptors) {
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		c.add(schemaOf(md), !md.IsMapEntry())
		c.addMessages(md.Messages())
	}
}

func (c *Corpus) add(s *Schema, candidate bool) {
	if _, dup := c.byName[s.Name]; dup {
		return
	}
	c.byName[s.Name] = s
	if candidate {
		c.candidates = append(c.candidates, s)
	}
}

func schemaOf(md protoreflect.MessageDescriptor) *Schema {
	fields := md.Fields()
	s := &Schema{Name: string(md.FullName()), Fields: make([]Field, 0, fields.Len())}
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		f := Field{
			Name:     string(fd.Name()),
			Number:   fd.Number(),
			Kind:     fd.Kind(),
			Repeated: fd.Cardinality() == protoreflect.Repeated,
		}
		if m := fd.Message(); m != nil {
			f.Message = string(m.FullName())
		}
		s.Fields = append(s.Fields, f)
	}
	s.index()
	return s
}

// Len returns the number of classification candidates.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.candidates)
}

// Names returns candidate names in enumeration order.
func (c *Corpus) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.candidates))
	for i, s := range c.candidates {
		names[i] = s.Name
	}
	return names
}

// Lookup returns a copy of the named schema.
func (c *Corpus) Lookup(name string) (Schema, bool) {
	if c == nil {
		return Schema{}, false
	}
	s, ok := c.byName[name]
	if !ok {
		return Schema{}, false
	}
	out := *s
	out.Fields = append([]Field(nil), s.Fields...)
	return out, true
}

package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var (
	ErrUnknownSchema    = errors.New("unknown schema")
	ErrUnknownField     = errors.New("field number not in schema")
	ErrWireTypeMismatch = errors.New("wire type does not match field")
	ErrMalformed        = errors.New("malformed wire data")
	ErrInvalidUTF8      = errors.New("string field is not valid UTF-8")
	ErrNestingTooDeep   = errors.New("message nesting too deep")
	errPackedTrailing   = errors.New("packed run has trailing bytes")
)

// maxDepth bounds recursion into nested messages.
const maxDepth = 64

// Classify reports the first schema, in enumeration order, that data decodes
// against completely. A miss is a normal outcome, not an error.
//
// The result is a heuristic. Schemas with wire-compatible layouts cannot be
// told apart, so a single length-delimited field matches any message whose
// field of that number is a string, bytes or message; the schema enumerated
// first wins. An empty buffer decodes against every schema.
func (c *Corpus) Classify(data []byte) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, s := range c.candidates {
		if c.decode(s, data, 0) == nil {
			return s.Name, true
		}
	}
	return "", false
}

// Matches returns every candidate data decodes against, in enumeration
// order. It exposes the ambiguity Classify hides.
func (c *Corpus) Matches(data []byte) []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, s := range c.candidates {
		if c.decode(s, data, 0) == nil {
			out = append(out, s.Name)
		}
	}
	return out
}

// Decode trial decodes data against the named schema and returns the first
// structural problem found.
func (c *Corpus) Decode(name string, data []byte) error {
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	s, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return c.decode(s, data, 0)
}

func (c *Corpus) decode(s *Schema, b []byte, depth int) error {
	if depth > maxDepth {
		return ErrNestingTooDeep
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f, ok := s.byNumber[num]
		if !ok {
			return fmt.Errorf("%w: %s field %d", ErrUnknownField, s.Name, num)
		}

		switch {
		case typ == f.WireType():
			n, err := c.consumeValue(s, f, typ, b, depth)
			if err != nil {
				return err
			}
			b = b[n:]
		case typ == protowire.BytesType && f.packable():
			n, err := consumePacked(s, f, b)
			if err != nil {
				return err
			}
			b = b[n:]
		default:
			return fmt.Errorf("%w: %s.%s wants %d, got %d", ErrWireTypeMismatch, s.Name, f.Name, f.WireType(), typ)
		}
	}
	return nil
}

func (c *Corpus) consumeValue(s *Schema, f Field, typ protowire.Type, b []byte, depth int) (int, error) {
	switch typ {
	case protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, malformed(s, f, protowire.ParseError(n))
		}
		if f.Kind == protoreflect.StringKind && !utf8.Valid(v) {
			return 0, fmt.Errorf("%w: %s.%s", ErrInvalidUTF8, s.Name, f.Name)
		}
		if nested, ok := c.byName[f.Message]; ok {
			if err := c.decode(nested, v, depth+1); err != nil {
				return 0, fmt.Errorf("%s.%s: %w", s.Name, f.Name, err)
			}
		}
		return n, nil
	case protowire.StartGroupType:
		_, n := protowire.ConsumeGroup(f.Number, b)
		if n < 0 {
			return 0, malformed(s, f, protowire.ParseError(n))
		}
		return n, nil
	default:
		n := protowire.ConsumeFieldValue(f.Number, typ, b)
		if n < 0 {
			return 0, malformed(s, f, protowire.ParseError(n))
		}
		return n, nil
	}
}

func consumePacked(s *Schema, f Field, b []byte) (int, error) {
	run, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, malformed(s, f, protowire.ParseError(n))
	}
	typ := f.WireType()
	for len(run) > 0 {
		m := protowire.ConsumeFieldValue(f.Number, typ, run)
		if m < 0 {
			return 0, malformed(s, f, errPackedTrailing)
		}
		run = run[m:]
	}
	return n, nil
}

func malformed(s *Schema, f Field, err error) error {
	return fmt.Errorf("%w: %s.%s: %w", ErrMalformed, s.Name, f.Name, err)
}

package classfile

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const classMagic = 0xCAFEBABE

// preambleSize covers magic, minor_version and major_version.
const preambleSize = 8

// Constant-pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// the only attribute the parser looks inside
const runtimeVisibleAnnotations = "RuntimeVisibleAnnotations"

// maxAnnotationDepth bounds recursion through nested annotation values.
const maxAnnotationDepth = 64

// Parser extracts headers and outlines using a specific set of annotations
// of interest. The zero value is not usable; see [NewParser].
type Parser struct {
	annotations *Annotations
}

// NewParser returns a parser that records the annotations in the given set.
// A nil set records no annotations.
func NewParser(annotations *Annotations) *Parser {
	return &Parser{annotations: annotations}
}

var defaultParser = NewParser(DefaultAnnotations)

// ParseHeader extracts a [Header] from class-file content.
func ParseHeader(bytecode []byte) (*Header, error) {
	return defaultParser.Header(bytecode, 0)
}

// ParseHeaderAt extracts a [Header] from class-file content starting at offset.
func ParseHeaderAt(bytecode []byte, offset int) (*Header, error) {
	return defaultParser.Header(bytecode, offset)
}

// ParseOutline extracts an [Outline] from class-file content.
func ParseOutline(bytecode []byte) (*Outline, error) {
	return defaultParser.Outline(bytecode, 0)
}

// ParseOutlineAt extracts an [Outline] from class-file content starting at offset.
func ParseOutlineAt(bytecode []byte, offset int) (*Outline, error) {
	return defaultParser.Outline(bytecode, offset)
}

// Header parses only as far as the interface list.
func (p *Parser) Header(bytecode []byte, offset int) (*Header, error) {
	outline, err := p.parse(bytecode, offset, true)
	if err != nil {
		return nil, err
	}

	return &outline.Header, nil
}

// Outline parses the full class structure, skipping method bodies and all
// attributes other than runtime-visible annotations.
func (p *Parser) Outline(bytecode []byte, offset int) (*Outline, error) {
	return p.parse(bytecode, offset, false)
}

// poolOffsets recycles the constant-pool index between parses.
var poolOffsets = sync.Pool{
	New: func() any {
		s := make([]int, 0, 512)
		return &s
	},
}

// cursor walks one class file. Every read is bounds-checked; failures unwind
// through panic(parseFailure) and are turned back into errors by parse.
type cursor struct {
	b []byte

	// cp maps constant-pool index to:
	//   > 0  offset of a CONSTANT_Utf8 length prefix
	//   < 0  negated name index of a CONSTANT_Class
	//   0    any other entry
	cp []int

	interest *annotationSet
}

func (p *Parser) parse(bytecode []byte, offset int, onlyHeader bool) (outline *Outline, err error) {
	if offset < 0 || offset > len(bytecode) {
		return nil, fmt.Errorf("%w: offset %d outside %d bytes", ErrMalformed, offset, len(bytecode))
	}

	pooled, _ := poolOffsets.Get().(*[]int)

	c := cursor{b: bytecode, cp: (*pooled)[:0], interest: p.annotations.snapshot()}

	defer func() {
		*pooled = c.cp[:0]
		poolOffsets.Put(pooled)

		if r := recover(); r != nil {
			failure, ok := r.(parseFailure)
			if !ok {
				panic(r)
			}

			outline, err = nil, failure.err
		}
	}()

	pos := offset

	if binary.BigEndian.Uint32(c.slice(pos, 4)) != classMagic {
		c.fail(ErrBadMagic)
	}

	pos += preambleSize

	cpLen := c.u2(pos)
	pos += 2

	// every pool entry takes at least three bytes
	c.need(pos, cpLen-1, 3)

	c.cp = growPool(c.cp, cpLen)
	pos = c.scanPool(pos, cpLen)

	out := &Outline{}

	out.Access = uint32(c.u2(pos))
	pos += 2

	out.Name = c.className(c.u2(pos))
	pos += 2

	switch {
	case out.Access&AccInterface != 0:
		// interfaces always declare java/lang/Object
		out.SuperName = JavaLangObject
	case out.Access&AccModule != 0:
		// module-info has no super-class
	default:
		if superIndex := c.u2(pos); superIndex != 0 {
			out.SuperName = c.className(superIndex)
		}
	}

	pos += 2

	interfacesCount := c.u2(pos)
	pos += 2

	if interfacesCount > 0 {
		c.need(pos, interfacesCount, 2)

		out.Interfaces = make([]string, interfacesCount)
		for i := range out.Interfaces {
			out.Interfaces[i] = c.className(c.u2(pos))
			pos += 2
		}
	}

	if onlyHeader {
		return out, nil
	}

	pos = c.fields(pos, out)
	pos = c.methods(pos, out)
	out.Annotations, _ = c.attributes(pos)

	return out, nil
}

// scanPool records the offsets of name-bearing entries and returns the
// position just past the constant pool.
func (c *cursor) scanPool(pos, cpLen int) int {
	for i := 1; i < cpLen; i++ {
		tag := c.u1(pos)
		pos++

		switch tag {
		case tagUtf8:
			c.cp[i] = pos
			pos += 2 + c.u2(pos)
		case tagClass:
			c.cp[i] = -c.u2(pos)
			pos += 2
		case tagString, tagMethodType, tagModule, tagPackage:
			pos += 2
		case tagMethodHandle:
			pos += 3
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			pos += 4
		case tagLong, tagDouble:
			pos += 8
			// eight-byte constants take up two pool entries
			i++
		default:
			c.fail(fmt.Errorf("%w %d at pool entry %d", ErrUnknownTag, tag, i))
		}
	}

	return pos
}

func (c *cursor) fields(pos int, out *Outline) int {
	count := c.u2(pos)
	pos += 2

	if count == 0 {
		return pos
	}

	c.need(pos, count, memberMinSize)

	out.Fields = make([]FieldOutline, count)

	for i := range out.Fields {
		f := &out.Fields[i]

		f.Access = uint32(c.u2(pos))
		f.Name = c.utf(c.u2(pos + 2))
		f.Descriptor = c.utf(c.u2(pos + 4))
		f.Annotations, pos = c.attributes(pos + 6)
	}

	return pos
}

func (c *cursor) methods(pos int, out *Outline) int {
	count := c.u2(pos)
	pos += 2

	if count == 0 {
		return pos
	}

	c.need(pos, count, memberMinSize)

	// one backing array, handed out by pointer
	backing := make([]MethodOutline, count)
	out.Methods = make([]*MethodOutline, count)

	for i := range backing {
		m := &backing[i]

		m.Access = uint32(c.u2(pos))
		m.Name = c.utf(c.u2(pos + 2))
		m.Descriptor = c.utf(c.u2(pos + 4))
		m.Annotations, pos = c.attributes(pos + 6)

		out.Methods[i] = m
	}

	return pos
}

// attributes walks an attribute table, returning the annotations of interest
// found in its RuntimeVisibleAnnotations attribute and the position after it.
func (c *cursor) attributes(pos int) ([]string, int) {
	count := c.u2(pos)
	pos += 2

	var annotations []string

	// there is at most one RuntimeVisibleAnnotations attribute per table
	searching := c.interest != nil && len(c.interest.byDescriptor) > 0

	for range count {
		nameIndex := c.u2(pos)
		length := c.u4(pos + 2)
		pos += 6

		if searching && c.utfEquals(nameIndex, runtimeVisibleAnnotations) {
			annotations = c.annotations(pos)
			searching = false
		}

		c.slice(pos, length)
		pos += length
	}

	return annotations, pos
}

func (c *cursor) annotations(pos int) []string {
	count := c.u2(pos)
	pos += 2

	var found []string

	for range count {
		if name, ok := c.interest.lookup(c.utfBytes(c.u2(pos))); ok {
			// rarely more than one match per location
			found = append(found, name)
		}

		pos = c.skipAnnotation(pos, 0)
	}

	return found
}

// skipAnnotation returns the position after the annotation starting at pos.
func (c *cursor) skipAnnotation(pos, depth int) int {
	if depth > maxAnnotationDepth {
		c.fail(fmt.Errorf("%w: annotations nested deeper than %d", ErrMalformed, maxAnnotationDepth))
	}

	pairs := c.u2(pos + 2)
	pos += 4

	for range pairs {
		// skip element_name_index
		pos = c.skipElementValue(pos+2, depth)
	}

	return pos
}

// skipElementValue returns the position after the element_value at pos.
func (c *cursor) skipElementValue(pos, depth int) int {
	tag := c.u1(pos)
	pos++

	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		// const_value_index or class_info_index
		return pos + 2
	case 'e':
		// type_name_index + const_name_index
		return pos + 4
	case '@':
		return c.skipAnnotation(pos, depth+1)
	case '[':
		count := c.u2(pos)
		pos += 2

		for range count {
			pos = c.skipElementValue(pos, depth+1)
		}

		return pos
	default:
		c.fail(fmt.Errorf("%w %q in annotation element", ErrUnknownTag, tag))

		return pos
	}
}

// className resolves a CONSTANT_Class index to its name.
func (c *cursor) className(index int) string {
	if index <= 0 || index >= len(c.cp) || c.cp[index] >= 0 {
		c.fail(fmt.Errorf("%w: %d is not a class entry", ErrBadIndex, index))
	}

	return c.utf(-c.cp[index])
}

// utf decodes the CONSTANT_Utf8 at index.
func (c *cursor) utf(index int) string {
	s, ok := decodeModifiedUTF8(c.utfBytes(index))
	if !ok {
		c.fail(fmt.Errorf("%w: invalid modified UTF-8 at pool entry %d", ErrMalformed, index))
	}

	return s
}

// utfBytes returns the raw bytes of the CONSTANT_Utf8 at index without copying.
func (c *cursor) utfBytes(index int) []byte {
	if index <= 0 || index >= len(c.cp) || c.cp[index] <= 0 {
		c.fail(fmt.Errorf("%w: %d is not a utf8 entry", ErrBadIndex, index))
	}

	start := c.cp[index]

	return c.slice(start+2, c.u2(start))
}

// utfEquals compares the CONSTANT_Utf8 at index against s without allocating.
func (c *cursor) utfEquals(index int, s string) bool {
	return string(c.utfBytes(index)) == s
}

func (c *cursor) slice(pos, n int) []byte {
	if pos < 0 || n < 0 || pos+n > len(c.b) {
		c.fail(ErrTruncated)
	}

	return c.b[pos : pos+n]
}

func (c *cursor) u1(pos int) int {
	if pos < 0 || pos >= len(c.b) {
		c.fail(ErrTruncated)
	}

	return int(c.b[pos])
}

// u2 reads an unsigned big-endian 16-bit value.
func (c *cursor) u2(pos int) int {
	return int(binary.BigEndian.Uint16(c.slice(pos, 2)))
}

// u4 reads an unsigned big-endian 32-bit value.
func (c *cursor) u4(pos int) int {
	return int(binary.BigEndian.Uint32(c.slice(pos, 4)))
}

// memberMinSize is a field or method entry with no attributes.
const memberMinSize = 8

// need fails with ErrTruncated unless count entries of at least size bytes
// fit after pos. Declared counts are checked before anything is sized by them.
func (c *cursor) need(pos, count, size int) {
	if count*size > len(c.b)-pos {
		c.fail(ErrTruncated)
	}
}

func (c *cursor) fail(err error) {
	panic(parseFailure{err: err})
}

// growPool returns a zeroed slice of length n, reusing s when it is big enough.
func growPool(s []int, n int) []int {
	if cap(s) < n {
		return make([]int, n)
	}

	s = s[:n]
	clear(s)

	return s
}

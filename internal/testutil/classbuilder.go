package testutil

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// Class access flags used by the builder. They mirror classfile.Acc*.
const (
	AccPublic    = 0x0001
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccModule    = 0x8000
)

// ClassBuilder emits class-file bytes for tests without checking in
// compiled fixtures.
//
// The output is structurally valid: constants are deduplicated, strings are
// written in modified UTF-8, long and double constants take two pool
// entries, and every method carries a small Code attribute so parsers have
// to skip real attribute bodies.
//
//	data := testutil.NewClassBuilder("sample/B").
//		Super("sample/A").
//		Interfaces("java/io/Serializable").
//		Bytes()
type ClassBuilder struct {
	access      uint16
	name        string
	super       string
	noSuper     bool
	interfaces  []string
	fields      []memberDef
	methods     []memberDef
	annotations []string
	invisible   []string

	allConstants bool
	richValues   bool
	major        uint16
}

type memberDef struct {
	access      uint16
	name        string
	descriptor  string
	annotations []string
}

// NewClassBuilder starts a public class extending java/lang/Object.
func NewClassBuilder(name string) *ClassBuilder {
	return &ClassBuilder{
		access: AccPublic | AccSuper,
		name:   name,
		super:  "java/lang/Object",
		major:  65,
	}
}

// Access replaces the class access flags.
func (b *ClassBuilder) Access(flags uint16) *ClassBuilder {
	b.access = flags

	return b
}

// Super sets the super-class.
func (b *ClassBuilder) Super(name string) *ClassBuilder {
	b.super = name
	b.noSuper = false

	return b
}

// NoSuper writes a zero super_class index, as java/lang/Object and
// module-info do.
func (b *ClassBuilder) NoSuper() *ClassBuilder {
	b.noSuper = true

	return b
}

// Module turns the class into a module descriptor.
func (b *ClassBuilder) Module() *ClassBuilder {
	b.access = AccModule
	b.noSuper = true

	return b
}

// Interface turns the class into an interface. Compilers still write
// java/lang/Object as the super-class.
func (b *ClassBuilder) Interface() *ClassBuilder {
	b.access = AccPublic | AccInterface | AccAbstract

	return b
}

// Interfaces appends directly implemented interfaces.
func (b *ClassBuilder) Interfaces(names ...string) *ClassBuilder {
	b.interfaces = append(b.interfaces, names...)

	return b
}

// Field appends a field with optional runtime-visible annotations.
func (b *ClassBuilder) Field(access uint16, name, descriptor string, annotations ...string) *ClassBuilder {
	b.fields = append(b.fields, memberDef{access, name, descriptor, annotations})

	return b
}

// Method appends a method with optional runtime-visible annotations.
func (b *ClassBuilder) Method(access uint16, name, descriptor string, annotations ...string) *ClassBuilder {
	b.methods = append(b.methods, memberDef{access, name, descriptor, annotations})

	return b
}

// Annotate adds runtime-visible class annotations.
func (b *ClassBuilder) Annotate(names ...string) *ClassBuilder {
	b.annotations = append(b.annotations, names...)

	return b
}

// AnnotateInvisible adds class annotations to a RuntimeInvisibleAnnotations
// attribute, which parsers are expected to ignore.
func (b *ClassBuilder) AnnotateInvisible(names ...string) *ClassBuilder {
	b.invisible = append(b.invisible, names...)

	return b
}

// AllConstantKinds adds one constant of every pool tag, including the
// two-entry long and double kinds.
func (b *ClassBuilder) AllConstantKinds() *ClassBuilder {
	b.allConstants = true

	return b
}

// RichValues gives every emitted annotation element values of every kind,
// including nested annotations and arrays.
func (b *ClassBuilder) RichValues() *ClassBuilder {
	b.richValues = true

	return b
}

// Bytes renders the class file.
func (b *ClassBuilder) Bytes() []byte {
	pool := newConstantPool()

	var body []byte

	thisIndex := pool.class(b.name)

	superIndex := uint16(0)
	if !b.noSuper {
		superIndex = pool.class(b.super)
	}

	if b.allConstants {
		pool.everyKind()
	}

	body = binary.BigEndian.AppendUint16(body, b.access)
	body = binary.BigEndian.AppendUint16(body, thisIndex)
	body = binary.BigEndian.AppendUint16(body, superIndex)
	body = binary.BigEndian.AppendUint16(body, uint16(len(b.interfaces)))

	for _, iface := range b.interfaces {
		body = binary.BigEndian.AppendUint16(body, pool.class(iface))
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(b.fields)))
	for _, f := range b.fields {
		body = b.appendMember(body, pool, f, false)
	}

	body = binary.BigEndian.AppendUint16(body, uint16(len(b.methods)))
	for _, m := range b.methods {
		body = b.appendMember(body, pool, m, true)
	}

	// class attributes: SourceFile, then invisible, then visible annotations
	var attrs [][]byte

	sourceFile := binary.BigEndian.AppendUint16(nil, pool.utf8(b.name+".java"))
	attrs = append(attrs, attribute(pool, "SourceFile", sourceFile))

	if len(b.invisible) > 0 {
		attrs = append(attrs, attribute(pool, "RuntimeInvisibleAnnotations", b.annotationsBody(pool, b.invisible)))
	}

	if len(b.annotations) > 0 {
		attrs = append(attrs, attribute(pool, "RuntimeVisibleAnnotations", b.annotationsBody(pool, b.annotations)))
	}

	body = appendAttributes(body, attrs)

	out := binary.BigEndian.AppendUint32(nil, 0xCAFEBABE)
	out = binary.BigEndian.AppendUint16(out, 0)
	out = binary.BigEndian.AppendUint16(out, b.major)
	out = binary.BigEndian.AppendUint16(out, pool.next)
	out = append(out, pool.buf...)

	return append(out, body...)
}

func (b *ClassBuilder) appendMember(dst []byte, pool *constantPool, m memberDef, isMethod bool) []byte {
	dst = binary.BigEndian.AppendUint16(dst, m.access)
	dst = binary.BigEndian.AppendUint16(dst, pool.utf8(m.name))
	dst = binary.BigEndian.AppendUint16(dst, pool.utf8(m.descriptor))

	var attrs [][]byte

	if isMethod && m.access&AccAbstract == 0 {
		// max_stack, max_locals, code_length, return, no handlers, no attributes
		code := []byte{0, 1, 0, 1, 0, 0, 0, 1, 0xB1, 0, 0, 0, 0}
		attrs = append(attrs, attribute(pool, "Code", code))
	}

	if len(m.annotations) > 0 {
		attrs = append(attrs, attribute(pool, "RuntimeVisibleAnnotations", b.annotationsBody(pool, m.annotations)))
	}

	return appendAttributes(dst, attrs)
}

func (b *ClassBuilder) annotationsBody(pool *constantPool, names []string) []byte {
	body := binary.BigEndian.AppendUint16(nil, uint16(len(names)))

	for _, name := range names {
		body = b.appendAnnotation(body, pool, name, b.richValues)
	}

	return body
}

func (b *ClassBuilder) appendAnnotation(dst []byte, pool *constantPool, name string, rich bool) []byte {
	dst = binary.BigEndian.AppendUint16(dst, pool.utf8("L"+name+";"))

	if !rich {
		return binary.BigEndian.AppendUint16(dst, 0)
	}

	u2 := binary.BigEndian.AppendUint16

	dst = u2(dst, 6)

	dst = u2(dst, pool.utf8("count"))
	dst = append(dst, 'I')
	dst = u2(dst, pool.integer(7))

	dst = u2(dst, pool.utf8("value"))
	dst = append(dst, 's')
	dst = u2(dst, pool.utf8("/items"))

	dst = u2(dst, pool.utf8("mode"))
	dst = append(dst, 'e')
	dst = u2(dst, pool.utf8("Lsample/Mode;"))
	dst = u2(dst, pool.utf8("FAST"))

	dst = u2(dst, pool.utf8("type"))
	dst = append(dst, 'c')
	dst = u2(dst, pool.utf8("Ljava/lang/String;"))

	dst = u2(dst, pool.utf8("nested"))
	dst = append(dst, '@')
	dst = b.appendAnnotation(dst, pool, "sample/Nested", false)

	dst = u2(dst, pool.utf8("limits"))
	dst = append(dst, '[')
	dst = u2(dst, 3)
	dst = append(dst, 'J')
	dst = u2(dst, pool.long(math.MaxInt64))
	dst = append(dst, 'D')
	dst = u2(dst, pool.double(0.5))
	dst = append(dst, '[')
	dst = u2(dst, 1)
	dst = append(dst, 'Z')
	dst = u2(dst, pool.integer(1))

	return dst
}

func attribute(pool *constantPool, name string, body []byte) []byte {
	out := binary.BigEndian.AppendUint16(nil, pool.utf8(name))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))

	return append(out, body...)
}

func appendAttributes(dst []byte, attrs [][]byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(attrs)))
	for _, a := range attrs {
		dst = append(dst, a...)
	}

	return dst
}

type constantPool struct {
	buf   []byte
	next  uint16
	utfs    map[string]uint16
	classes map[string]uint16
}

func newConstantPool() *constantPool {
	return &constantPool{
		next:  1,
		utfs:    make(map[string]uint16),
		classes: make(map[string]uint16),
	}
}

func (p *constantPool) add(tag byte, payload []byte, slots uint16) uint16 {
	index := p.next
	p.next += slots
	p.buf = append(p.buf, tag)
	p.buf = append(p.buf, payload...)

	return index
}

func (p *constantPool) utf8(s string) uint16 {
	if index, ok := p.utfs[s]; ok {
		return index
	}

	encoded := EncodeModifiedUTF8(s)
	payload := binary.BigEndian.AppendUint16(nil, uint16(len(encoded)))
	index := p.add(1, append(payload, encoded...), 1)
	p.utfs[s] = index

	return index
}

func (p *constantPool) class(name string) uint16 {
	if index, ok := p.classes[name]; ok {
		return index
	}

	index := p.add(7, binary.BigEndian.AppendUint16(nil, p.utf8(name)), 1)
	p.classes[name] = index

	return index
}

func (p *constantPool) integer(v int32) uint16 {
	return p.add(3, binary.BigEndian.AppendUint32(nil, uint32(v)), 1)
}

func (p *constantPool) long(v int64) uint16 {
	return p.add(5, binary.BigEndian.AppendUint64(nil, uint64(v)), 2)
}

func (p *constantPool) double(v float64) uint16 {
	return p.add(6, binary.BigEndian.AppendUint64(nil, math.Float64bits(v)), 2)
}

func (p *constantPool) ref(tag byte, a, b uint16) uint16 {
	payload := binary.BigEndian.AppendUint16(nil, a)

	return p.add(tag, binary.BigEndian.AppendUint16(payload, b), 1)
}

// everyKind adds one entry of each constant tag.
func (p *constantPool) everyKind() {
	u2 := func(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }

	owner := p.class("sample/Owner")
	nat := p.ref(12, p.utf8("run"), p.utf8("()V"))
	method := p.ref(10, owner, nat)

	p.integer(-1)
	p.add(4, binary.BigEndian.AppendUint32(nil, math.Float32bits(1.5)), 1)
	p.long(-2)
	p.double(2.25)
	p.add(8, u2(p.utf8("a string")), 1)
	p.ref(9, owner, p.ref(12, p.utf8("field"), p.utf8("I")))
	p.ref(11, p.class("sample/Iface"), nat)
	p.add(15, append([]byte{6}, u2(method)...), 1)
	p.add(16, u2(p.utf8("(I)J")), 1)
	p.ref(17, 0, nat)
	p.ref(18, 0, nat)
	p.add(19, u2(p.utf8("sample.module")), 1)
	p.add(20, u2(p.utf8("sample/pkg")), 1)
}

// EncodeModifiedUTF8 encodes s the way class files store string constants:
// NUL as two bytes and supplementary characters as UTF-16 surrogate pairs of
// three bytes each.
func EncodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))

	for _, unit := range utf16.Encode([]rune(s)) {
		switch {
		case unit != 0 && unit < 0x80:
			out = append(out, byte(unit))
		case unit < 0x800:
			out = append(out, 0xC0|byte(unit>>6), 0x80|byte(unit&0x3F))
		default:
			out = append(out, 0xE0|byte(unit>>12), 0x80|byte(unit>>6&0x3F), 0x80|byte(unit&0x3F))
		}
	}

	return out
}

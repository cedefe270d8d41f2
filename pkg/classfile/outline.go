package classfile

import "sync"

// Well-known names that are shared instead of copied out of each class file.
const (
	JavaLangObject = "java/lang/Object"
	Constructor    = "<init>"
	StaticInit     = "<clinit>"
	NoArgsVoidCall = "()V"
)

// Access flags shared by classes, fields and methods.
//
// Some values are reused with a different meaning depending on where they
// appear, for example 0x0040 is ACC_VOLATILE on fields and ACC_BRIDGE on
// methods.
const (
	AccPublic       uint32 = 0x0001
	AccPrivate      uint32 = 0x0002
	AccProtected    uint32 = 0x0004
	AccStatic       uint32 = 0x0008
	AccFinal        uint32 = 0x0010
	AccSuper        uint32 = 0x0020
	AccSynchronized uint32 = 0x0020
	AccVolatile     uint32 = 0x0040
	AccBridge       uint32 = 0x0040
	AccTransient    uint32 = 0x0080
	AccVarargs      uint32 = 0x0080
	AccNative       uint32 = 0x0100
	AccInterface    uint32 = 0x0200
	AccAbstract     uint32 = 0x0400
	AccStrict       uint32 = 0x0800
	AccSynthetic    uint32 = 0x1000
	AccAnnotation   uint32 = 0x2000
	AccEnum         uint32 = 0x4000
	AccModule       uint32 = 0x8000
)

// Header describes a class's access modifiers and immediate hierarchy.
type Header struct {
	// Access holds the class access flags.
	Access uint32

	// Name is the internal name of the class.
	Name string

	// SuperName is the internal name of the declared super-class.
	// It is empty for java/lang/Object and module-info units; see HasSuper.
	SuperName string

	// Interfaces lists the internal names of the declared interfaces.
	Interfaces []string
}

// HasSuper reports whether the class declares a super-class.
func (h *Header) HasSuper() bool {
	return h.SuperName != ""
}

// IsInterface reports whether the class is an interface (or annotation type).
func (h *Header) IsInterface() bool {
	return h.Access&AccInterface != 0
}

// IsAbstract reports whether the class is abstract.
func (h *Header) IsAbstract() bool {
	return h.Access&AccAbstract != 0
}

// IsModule reports whether the unit is a module descriptor.
func (h *Header) IsModule() bool {
	return h.Access&AccModule != 0
}

// Implements reports whether the class directly declares the given interface.
func (h *Header) Implements(internalName string) bool {
	for _, iface := range h.Interfaces {
		if iface == internalName {
			return true
		}
	}

	return false
}

// Outline extends Header with fields, methods and annotations of interest.
type Outline struct {
	Header

	Fields  []FieldOutline
	Methods []*MethodOutline

	// Annotations lists the class-level annotations of interest, by internal name.
	Annotations []string
}

// HasAnnotation reports whether the class carries the given annotation of interest.
func (o *Outline) HasAnnotation(internalName string) bool {
	return containsName(o.Annotations, internalName)
}

// FieldOutline describes a field: access flags, name, descriptor, annotations.
type FieldOutline struct {
	Access      uint32
	Name        string
	Descriptor  string
	Annotations []string
}

// HasAnnotation reports whether the field carries the given annotation of interest.
func (f *FieldOutline) HasAnnotation(internalName string) bool {
	return containsName(f.Annotations, internalName)
}

// MethodOutline describes a method: access flags, name, descriptor, annotations.
//
// Parameter and return boundaries inside Descriptor are computed on first use
// and then cached on the outline. A MethodOutline must not be copied once
// in use; outlines hand them out by pointer.
type MethodOutline struct {
	Access      uint32
	Name        string
	Descriptor  string
	Annotations []string

	boundsOnce sync.Once
	bounds     []uint16
}

// HasAnnotation reports whether the method carries the given annotation of interest.
func (m *MethodOutline) HasAnnotation(internalName string) bool {
	return containsName(m.Annotations, internalName)
}

// IsConstructor reports whether the method is an instance initializer.
func (m *MethodOutline) IsConstructor() bool {
	return m.Name == Constructor
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}

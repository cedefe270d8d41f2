package classfile

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Annotations is a set of annotation types of interest.
//
// Reads take a lock-free snapshot; Add copies the current set, extends the
// copy and publishes it atomically, so parsing never waits on registration.
type Annotations struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[annotationSet]
}

// annotationSet maps the descriptor form ("Ljavax/ws/rs/Path;") found in class
// files to the internal name ("javax/ws/rs/Path") reported in outlines.
type annotationSet struct {
	byDescriptor map[string]string
}

// DefaultAnnotations is the process-wide set used by the package-level parse
// functions.
var DefaultAnnotations = NewAnnotations()

// AnnotationsOfInterest flags annotation types, in internal form, to be
// included in outlines produced by the package-level parse functions.
//
//	classfile.AnnotationsOfInterest("javax/ws/rs/Path")
func AnnotationsOfInterest(internalNames ...string) {
	DefaultAnnotations.Add(internalNames...)
}

// NewAnnotations returns a set holding the given annotation types.
func NewAnnotations(internalNames ...string) *Annotations {
	a := &Annotations{}
	a.Add(internalNames...)

	return a
}

// Add flags the given annotation types as interesting. It is idempotent:
// adding names that are already present does not publish a new set.
func (a *Annotations) Add(internalNames ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := a.snap.Load()

	var missing []string

	for _, name := range internalNames {
		if name == "" {
			continue
		}

		if current != nil {
			if _, ok := current.byDescriptor[annotationDescriptor(name)]; ok {
				continue
			}
		}

		missing = append(missing, name)
	}

	if len(missing) == 0 {
		return
	}

	next := &annotationSet{byDescriptor: make(map[string]string, current.size()+len(missing))}

	if current != nil {
		for desc, name := range current.byDescriptor {
			next.byDescriptor[desc] = name
		}
	}

	for _, name := range missing {
		next.byDescriptor[annotationDescriptor(name)] = name
	}

	a.snap.Store(next)
}

// Contains reports whether the annotation type is in the set.
func (a *Annotations) Contains(internalName string) bool {
	set := a.snapshot()
	if set == nil {
		return false
	}

	_, ok := set.byDescriptor[annotationDescriptor(internalName)]

	return ok
}

// Names returns the annotation types in the set, sorted.
func (a *Annotations) Names() []string {
	set := a.snapshot()
	if set == nil {
		return nil
	}

	names := make([]string, 0, len(set.byDescriptor))
	for _, name := range set.byDescriptor {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// snapshot returns the current set, nil when nothing is registered.
func (a *Annotations) snapshot() *annotationSet {
	if a == nil {
		return nil
	}

	return a.snap.Load()
}

func (s *annotationSet) size() int {
	if s == nil {
		return 0
	}

	return len(s.byDescriptor)
}

// lookup resolves a descriptor taken straight from class-file bytes.
// The string conversion in the map index does not allocate.
func (s *annotationSet) lookup(descriptor []byte) (string, bool) {
	name, ok := s.byDescriptor[string(descriptor)]

	return name, ok
}

// annotationDescriptor turns "javax/ws/rs/Path" into "Ljavax/ws/rs/Path;",
// the form annotation types are recorded in class files.
func annotationDescriptor(internalName string) string {
	return "L" + internalName + ";"
}

package classindex

import "github.com/calvinalkan/classindex/pkg/classfile"

// Predicate decides whether a class is of interest. It must not retain the
// outline beyond the call unless it treats it as read-only.
type Predicate func(outline *classfile.Outline) bool

// Extends matches classes whose direct super-class is superName.
func Extends(superName string) Predicate {
	return func(o *classfile.Outline) bool {
		return o.SuperName == superName
	}
}

// Implements matches classes that directly declare iface.
func Implements(iface string) Predicate {
	return func(o *classfile.Outline) bool {
		return o.Implements(iface)
	}
}

// AnnotatedWith matches classes carrying annotation on the class itself or
// on any field or method. The annotation must be registered in the parser's
// annotation set or it is never reported.
func AnnotatedWith(annotation string) Predicate {
	return func(o *classfile.Outline) bool {
		if o.HasAnnotation(annotation) {
			return true
		}

		for i := range o.Fields {
			if o.Fields[i].HasAnnotation(annotation) {
				return true
			}
		}

		for _, m := range o.Methods {
			if m.HasAnnotation(annotation) {
				return true
			}
		}

		return false
	}
}

// AnyOf matches when at least one of preds matches. With no predicates it
// matches nothing.
func AnyOf(preds ...Predicate) Predicate {
	return func(o *classfile.Outline) bool {
		for _, p := range preds {
			if p(o) {
				return true
			}
		}

		return false
	}
}

func matchNone(*classfile.Outline) bool { return false }

// Package classfile parses JVM class-file content into compact outlines.
//
// Two levels of detail are available:
//
//	header, err := classfile.ParseHeader(bytecode)   // name, super-name, interfaces
//	outline, err := classfile.ParseOutline(bytecode) // plus fields, methods, annotations
//
// Both make a single forward pass over the input and never retain it; all
// names in the result are copied out of the byte slice. Class-names and
// descriptors use the JVM internal form ("java/lang/String",
// "(ILjava/lang/String;)V").
//
// # Annotations
//
// Outlines only record annotations that were registered as interesting,
// which keeps them small:
//
//	classfile.AnnotationsOfInterest("javax/ws/rs/Path", "jakarta/ws/rs/Path")
//
// Registration is copy-on-write and safe to call while other goroutines are
// parsing; each parse uses the set that was current when it started. A
// [Parser] can be given its own [Annotations] set instead of the
// process-wide [DefaultAnnotations].
//
// # Errors
//
// Malformed or truncated input returns an error wrapping [ErrMalformed].
// Callers should treat that as "cannot classify this class" and must not
// cache anything derived from it.
//
// # Concurrency
//
// Parsing is safe for concurrent use. Outlines are immutable once returned
// and may be shared between goroutines without synchronization.
package classfile

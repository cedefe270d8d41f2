package classfile

import "strings"

// ParameterCount returns the number of parameters declared by the method
// descriptor. Malformed descriptors report zero parameters.
func (m *MethodOutline) ParameterCount() int {
	bounds := m.boundaries()
	if len(bounds) == 0 {
		return 0
	}

	return len(bounds) - 1
}

// ParameterDescriptor returns the raw descriptor of the indexed parameter,
// for example "I", "[J" or "Ljava/lang/String;". It returns "" when the
// method has no such parameter.
//
// The result is a substring of Descriptor; no copy is made.
func (m *MethodOutline) ParameterDescriptor(index int) string {
	bounds := m.boundaries()
	if index < 0 || index >= len(bounds)-1 {
		return ""
	}

	end := int(bounds[index+1])
	if index+1 == len(bounds)-1 {
		// the last bound starts the return type, one past ')'
		end--
	}

	return m.Descriptor[bounds[index]:end]
}

// ParameterType returns the internal name of the indexed parameter when it is
// an object type. Primitive and array parameters report false.
func (m *MethodOutline) ParameterType(index int) (string, bool) {
	return objectType(m.ParameterDescriptor(index))
}

// ReturnDescriptor returns the raw descriptor of the return type, "V" for void.
func (m *MethodOutline) ReturnDescriptor() string {
	bounds := m.boundaries()
	if len(bounds) == 0 {
		return ""
	}

	return m.Descriptor[bounds[len(bounds)-1]:]
}

// ReturnType returns the internal name of the return type when it is an
// object type. Primitive, array and void returns report false.
func (m *MethodOutline) ReturnType() (string, bool) {
	return objectType(m.ReturnDescriptor())
}

func (m *MethodOutline) boundaries() []uint16 {
	m.boundsOnce.Do(func() {
		m.bounds = descriptorBoundaries(m.Descriptor)
	})

	return m.bounds
}

// descriptorBoundaries returns the start offset of every parameter descriptor
// followed by the start offset of the return descriptor. "()V" yields [2].
// A malformed descriptor yields nil.
func descriptorBoundaries(descriptor string) []uint16 {
	if len(descriptor) < 3 || descriptor[0] != '(' || len(descriptor) > 0xFFFF {
		return nil
	}

	var bounds []uint16

	i := 1
	for i < len(descriptor) && descriptor[i] != ')' {
		start := i

		for i < len(descriptor) && descriptor[i] == '[' {
			i++
		}

		if i >= len(descriptor) {
			return nil
		}

		if descriptor[i] == 'L' {
			end := strings.IndexByte(descriptor[i+1:], ';')
			if end < 0 {
				return nil
			}

			i += end + 1
		}

		i++

		bounds = append(bounds, uint16(start))
	}

	// need ')' plus at least one return character
	if i+1 >= len(descriptor) {
		return nil
	}

	return append(bounds, uint16(i+1))
}

// objectType unwraps "Lpkg/Name;" into "pkg/Name".
func objectType(descriptor string) (string, bool) {
	if len(descriptor) < 3 || descriptor[0] != 'L' || descriptor[len(descriptor)-1] != ';' {
		return "", false
	}

	return descriptor[1 : len(descriptor)-1], true
}

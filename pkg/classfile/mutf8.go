package classfile

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// decodeModifiedUTF8 decodes the "modified UTF-8" used by class-file string
// constants: NUL is encoded as 0xC0 0x80 and supplementary characters as a
// pair of three-byte encoded UTF-16 surrogates. It reports false when a
// multi-byte sequence is cut short or starts with an invalid leading byte.
//
// Unpaired surrogates decode to utf8.RuneError since Go strings cannot hold them.
func decodeModifiedUTF8(raw []byte) (string, bool) {
	ascii := true

	for _, b := range raw {
		if b&0x80 != 0 {
			ascii = false

			break
		}
	}

	if ascii {
		return asciiString(raw), true
	}

	var sb strings.Builder

	sb.Grow(len(raw))

	var pending rune // unpaired high surrogate

	for i := 0; i < len(raw); {
		b := raw[i]

		var c rune

		switch {
		case b&0x80 == 0:
			c = rune(b)
			i++
		case b&0xE0 == 0xC0:
			if i+1 >= len(raw) {
				return "", false
			}

			c = rune(b&0x1F)<<6 | rune(raw[i+1]&0x3F)
			i += 2
		case b&0xF0 == 0xE0:
			if i+2 >= len(raw) {
				return "", false
			}

			c = rune(b&0x0F)<<12 | rune(raw[i+1]&0x3F)<<6 | rune(raw[i+2]&0x3F)
			i += 3
		default:
			return "", false
		}

		if pending != 0 {
			if isLowSurrogate(c) {
				sb.WriteRune(utf16.DecodeRune(pending, c))

				pending = 0

				continue
			}

			sb.WriteRune(utf8.RuneError)

			pending = 0
		}

		switch {
		case isHighSurrogate(c):
			pending = c
		case isLowSurrogate(c):
			sb.WriteRune(utf8.RuneError)
		default:
			sb.WriteRune(c)
		}
	}

	if pending != 0 {
		sb.WriteRune(utf8.RuneError)
	}

	return sb.String(), true
}

// asciiString copies ASCII bytes into a string, sharing the well-known
// constants instead of allocating copies of them.
func asciiString(raw []byte) string {
	switch string(raw) {
	case JavaLangObject:
		return JavaLangObject
	case Constructor:
		return Constructor
	case NoArgsVoidCall:
		return NoArgsVoidCall
	}

	return string(raw)
}

func isHighSurrogate(c rune) bool {
	return c >= 0xD800 && c < 0xDC00
}

func isLowSurrogate(c rune) bool {
	return c >= 0xDC00 && c < 0xE000
}

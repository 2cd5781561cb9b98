package telegram

import (
	"unicode/utf16"
	"unicode/utf8"
)

// surrogateEscapeLen is the length of a \uXXXX\uYYYY escape sequence.
const surrogateEscapeLen = 12

// RepairSurrogates appends src to dst with every JSON surrogate-pair escape
// (such as \ud83d\ude00) replaced by the UTF-8 encoding of the code point
// it denotes. All other bytes are copied unchanged, including unpaired or
// out-of-range surrogate escapes. The output is never longer than src, so a
// dst with cap(dst) >= len(src) is never reallocated.
func RepairSurrogates(dst, src []byte) []byte {
	for i := 0; i < len(src); {
		c := src[i]
		if c != '\\' || i+1 == len(src) {
			dst = append(dst, c)
			i++
			continue
		}
		if src[i+1] != 'u' {
			// Some other escape (\\, \", \n ...): copy both bytes so an
			// escaped backslash is never mistaken for the start of \u.
			dst = append(dst, c, src[i+1])
			i += 2
			continue
		}
		if r, ok := surrogatePair(src[i:]); ok {
			dst = utf8.AppendRune(dst, r)
			i += surrogateEscapeLen
			continue
		}
		dst = append(dst, c)
		i++
	}
	return dst
}

// surrogatePair decodes a leading \uHHHH\uLLLL pair from b.
func surrogatePair(b []byte) (rune, bool) {
	if len(b) < surrogateEscapeLen || b[6] != '\\' || b[7] != 'u' {
		return 0, false
	}
	hi, ok := hex4(b[2:6])
	if !ok || hi < 0xD800 || hi > 0xDBFF {
		return 0, false
	}
	lo, ok := hex4(b[8:12])
	if !ok || lo < 0xDC00 || lo > 0xDFFF {
		return 0, false
	}
	return utf16.DecodeRune(hi, lo), true
}

func hex4(b []byte) (rune, bool) {
	var v rune
	for _, c := range b[:4] {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | rune(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | rune(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | rune(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}

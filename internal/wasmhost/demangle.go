package wasmhost

import "strings"

// demangle renders a possibly-mangled guest function name the way a
// traceback frame should read (spec §4.4 step 8, mirroring the original
// host's use of rustc_demangle). It only understands the legacy Itanium
// (GCC/rustc) mangling scheme rustc emits by default for wasm32 targets
// (`_ZN<len><seg><len><seg>...17h<16 hex digits>E`); anything else,
// including rustc's newer v0 scheme (`_R...`) or a plain unmangled
// export name, is returned unchanged. A best-effort demangler is enough
// here: it only feeds a log line, never a decision the host makes.
func demangle(name string) string {
	if !strings.HasPrefix(name, "_ZN") {
		return name
	}
	rest := name[3:]
	rest = strings.TrimSuffix(rest, "E")

	var segments []string
	for len(rest) > 0 {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			// Not a length-prefixed segment (malformed, or we've hit
			// trailing garbage) - bail out to the original name rather
			// than guess.
			return name
		}
		length := 0
		for _, c := range rest[:i] {
			length = length*10 + int(c-'0')
		}
		rest = rest[i:]
		if length > len(rest) {
			return name
		}
		segments = append(segments, rest[:length])
		rest = rest[length:]
	}

	if n := len(segments); n > 0 && isHashSegment(segments[n-1]) {
		segments = segments[:n-1]
	}
	if len(segments) == 0 {
		return name
	}
	return strings.Join(segments, "::")
}

// isHashSegment reports whether seg is rustc's disambiguating hash suffix,
// e.g. "17h3a9f2c1b0d4e5f6aE" minus its length/terminator - the segment
// rustc appends to every mangled symbol as "h" followed by 16 hex digits.
func isHashSegment(seg string) bool {
	if len(seg) != 17 || seg[0] != 'h' {
		return false
	}
	for _, c := range seg[1:] {
		if !isHexDigit(c) {
			return false
		}
	}
	return true
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

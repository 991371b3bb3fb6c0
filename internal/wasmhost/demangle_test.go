package wasmhost

import "testing"

func TestDemangleStripsHashAndJoinsPath(t *testing.T) {
	// "myapp::reducers::create_user" mangled the way rustc's legacy
	// scheme encodes it: length-prefixed path segments plus a trailing
	// "h"+16-hex-digit disambiguator, wrapped in _ZN...E.
	mangled := "_ZN5myapp8reducers11create_user17h1234567890abcdefE"
	got := demangle(mangled)
	want := "myapp::reducers::create_user"
	if got != want {
		t.Errorf("demangle(%q) = %q, want %q", mangled, got, want)
	}
}

func TestDemanglePassesThroughUnmangledNames(t *testing.T) {
	for _, name := range []string{"create_user", "__call_reducer__", "_RNvC1a1b"} {
		if got := demangle(name); got != name {
			t.Errorf("demangle(%q) = %q, want unchanged", name, got)
		}
	}
}

func TestDemangleFallsBackOnMalformedInput(t *testing.T) {
	malformed := "_ZN999garbage"
	if got := demangle(malformed); got != malformed {
		t.Errorf("demangle(%q) = %q, want unchanged fallback", malformed, got)
	}
}

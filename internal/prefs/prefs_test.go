package prefs

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cmpValues = cmp.AllowUnexported(Value{})

func countPrefLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "pref(") {
			n++
		}
	}
	return n
}

func TestRender_MediaKeysOverride(t *testing.T) {
	set := NewSet(Override{Key: "media.hardwaremediakeys.enabled", Value: Bool(false)})

	out, err := RenderBytes(set, RenderOptions{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	want := `pref("media.hardwaremediakeys.enabled", false);`
	matches := 0
	for _, l := range lines {
		if l == want {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
	assert.Equal(t, 1, countPrefLines(string(out)))
}

func TestRender_Idempotent(t *testing.T) {
	set := NewSet(
		Override{Key: "b.second", Value: Int(42), Comment: "the answer"},
		Override{Key: "a.first", Value: String("x"), Locked: true},
		Override{Key: "c.third", Value: Bool(true), Kind: KindUser},
	)
	opts := RenderOptions{Header: "generated", SortKeys: true}

	first, err := RenderBytes(set, opts)
	require.NoError(t, err)
	second, err := RenderBytes(set, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_EmptySet(t *testing.T) {
	out, err := RenderBytes(Set{}, RenderOptions{})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = RenderBytes(Set{}, RenderOptions{Header: "nothing to see"})
	require.NoError(t, err)
	assert.Equal(t, 0, countPrefLines(string(out)))
	assert.Equal(t, "// nothing to see\n", string(out))
}

func TestRender_EscapesKeysAndStrings(t *testing.T) {
	set := NewSet(
		Override{Key: `weird."quoted".key`, Value: Bool(true)},
		Override{Key: `back\slash`, Value: String("line1\nline2\t\"q\"\x01")},
	)

	out, err := RenderBytes(set, RenderOptions{})
	require.NoError(t, err)

	want := `pref("weird.\"quoted\".key", true);` + "\n" +
		`pref("back\\slash", "line1\nline2\t\"q\"\x01");` + "\n"
	if diff := cmp.Diff(want, string(out)); diff != "" {
		t.Errorf("render mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_Layout(t *testing.T) {
	set := NewSet(
		Override{Key: "one", Value: Bool(false), Comment: "first line\nsecond line"},
		Override{Key: "two", Value: Int(-7)},
		Override{Key: "three", Value: String("v"), Comment: "documented", Kind: KindSticky, Locked: true},
	)

	out, err := RenderBytes(set, RenderOptions{Header: "Header text"})
	require.NoError(t, err)

	want := `// Header text

// first line
// second line
pref("one", false);
pref("two", -7);

// documented
sticky_pref("three", "v", locked);
`
	if diff := cmp.Diff(want, string(out)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_SortKeys(t *testing.T) {
	set := NewSet(
		Override{Key: "z", Value: Bool(true)},
		Override{Key: "a", Value: Bool(false)},
	)
	out, err := RenderBytes(set, RenderOptions{SortKeys: true})
	require.NoError(t, err)
	assert.Equal(t, "pref(\"a\", false);\npref(\"z\", true);\n", string(out))
}

func TestRender_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		o    Override
		want error
	}{
		{"empty key", Override{Value: Bool(true)}, ErrEmptyKey},
		{"int range", Override{Key: "k", Value: Int(1 << 40)}, ErrIntRange},
		{"zero value", Override{Key: "k"}, ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RenderBytes(NewSet(tt.o), RenderOptions{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSet_PutReplacesInPlace(t *testing.T) {
	var s Set
	s.Put(Override{Key: "a", Value: Int(1)})
	s.Put(Override{Key: "b", Value: Int(2)})
	s.Put(Override{Key: "a", Value: Int(3)})

	require.Equal(t, 2, s.Len())
	got := s.Overrides()
	assert.Equal(t, "a", got[0].Key)
	v, _ := got[0].Value.AsInt()
	assert.Equal(t, int64(3), v)

	other := NewSet(Override{Key: "c", Value: Bool(true)}, Override{Key: "b", Value: Int(9)})
	s.Merge(other)
	keys := []string{}
	for _, o := range s.Overrides() {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	b, _ := s.Get("b")
	assert.Equal(t, "9", b.Value.Text())

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	c, ok := s.Get("c")
	require.True(t, ok)
	assert.Equal(t, "c", c.Key)
	assert.Equal(t, 2, s.Len())
}

func TestFromInterface(t *testing.T) {
	v, err := FromInterface(int64(12))
	require.NoError(t, err)
	assert.Equal(t, TypeInt, v.Type())

	_, err = FromInterface(12.0)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = FromInterface([]any{1})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = FromInterface(int64(1) << 33)
	assert.ErrorIs(t, err, ErrIntRange)
}

func TestInferValue(t *testing.T) {
	assert.Equal(t, Bool(false), InferValue("false"))
	assert.Equal(t, Int(-3), InferValue("-3"))
	assert.Equal(t, String("hello"), InferValue("hello"))
	assert.Equal(t, String("99999999999"), InferValue("99999999999"))
}

func TestParse_PackagedFile(t *testing.T) {
	src := `// This file ships configuration options which enhance integration between Firefox and KDE Plasma

// https://community.kde.org/Distributions/Packaging_Recommendations#Firefox_configuration
// Disable the hardware media keys as they conflict with the integration provided by the browser extension
pref("media.hardwaremediakeys.enabled",      false);
`
	f, err := ParseString(src)
	require.NoError(t, err)

	assert.Equal(t, "This file ships configuration options which enhance integration between Firefox and KDE Plasma", f.Header)
	require.Equal(t, 1, f.Set.Len())
	o, ok := f.Set.Get("media.hardwaremediakeys.enabled")
	require.True(t, ok)
	b, isBool := o.Value.AsBool()
	assert.True(t, isBool)
	assert.False(t, b)
	assert.Equal(t, KindDefault, o.Kind)
	assert.Contains(t, o.Comment, "Disable the hardware media keys")
	assert.Equal(t, 2, len(strings.Split(o.Comment, "\n")))
}

func TestParse_RoundTrip(t *testing.T) {
	set := NewSet(
		Override{Key: "one", Value: Bool(false), Comment: "first\n\nafter gap", Kind: KindDefault},
		Override{Key: `q"uote`, Value: String("tab\there \\ \x7f"), Kind: KindDefault},
		Override{Key: "three", Value: Int(-2147483648), Comment: "min", Kind: KindSticky, Locked: true},
		Override{Key: "four", Value: String("ünïcode"), Kind: KindUser},
	)
	out, err := RenderBytes(set, RenderOptions{Header: "top\nof file"})
	require.NoError(t, err)

	f, err := Parse(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Equal(t, "top\nof file", f.Header)
	if diff := cmp.Diff(set.Overrides(), f.Set.Overrides(), cmpValues); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Syntax(t *testing.T) {
	src := `
# hash comment
user_pref('single.quoted', 'it\'s'); // trailing note
/* block
 * comment */
pref("unicode", "é😀", sticky);
pref("dup", 1);
pref("dup", 2);
`
	f, err := ParseString(src)
	require.NoError(t, err)
	assert.Empty(t, f.Header)

	o, _ := f.Set.Get("single.quoted")
	assert.Equal(t, KindUser, o.Kind)
	assert.Equal(t, "hash comment", o.Comment)
	s, _ := o.Value.AsString()
	assert.Equal(t, "it's", s)

	u, _ := f.Set.Get("unicode")
	assert.Equal(t, KindSticky, u.Kind)
	assert.Equal(t, "block\ncomment", u.Comment)
	s, _ = u.Value.AsString()
	assert.Equal(t, "é😀", s)

	d, _ := f.Set.Get("dup")
	assert.Equal(t, "2", d.Value.Text())
	assert.Equal(t, 3, f.Set.Len())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown function", `lockPref("a", true);`, 1},
		{"missing semicolon", "pref(\"a\", true)\npref(\"b\", true);", 2},
		{"unterminated string", `pref("a, true);`, 1},
		{"bad value", "\npref(\"a\", yes);", 2},
		{"int overflow", `pref("a", 4294967296);`, 1},
		{"unterminated comment", "/* never closed", 1},
		{"user attrs", `user_pref("a", 1, locked);`, 1},
		{"empty key", `pref("", 1);`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.src)
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.line, se.Line)
		})
	}
}

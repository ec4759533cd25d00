package prefs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// RenderOptions controls the layout of generated declaration text.
type RenderOptions struct {
	// Header is written as a leading comment block followed by a blank line.
	Header   string
	SortKeys bool
}

// Render writes set as pref() declarations. Output is deterministic for a
// given set and options.
func Render(w io.Writer, set Set, opts RenderOptions) error {
	overrides := set.Overrides()
	if opts.SortKeys {
		overrides = set.Sorted()
	}
	for _, o := range overrides {
		if err := o.Validate(); err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	wrote := false
	if h := strings.TrimRight(opts.Header, "\n"); h != "" {
		writeComment(bw, h)
		wrote = true
	}
	for i, o := range overrides {
		documented := strings.TrimSpace(o.Comment) != ""
		if wrote && (documented || i == 0) {
			bw.WriteByte('\n')
		}
		if documented {
			writeComment(bw, strings.TrimRight(o.Comment, "\n"))
		}
		bw.WriteString(Declaration(o))
		bw.WriteByte('\n')
		wrote = true
	}
	return bw.Flush()
}

// RenderBytes is Render into a byte slice.
func RenderBytes(set Set, opts RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, set, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Declaration formats o as a single statement without a trailing newline.
func Declaration(o Override) string {
	var sb strings.Builder
	sb.WriteString(string(o.Kind.orDefault()))
	sb.WriteString(`("`)
	sb.WriteString(Escape(o.Key))
	sb.WriteString(`", `)
	sb.WriteString(literal(o.Value))
	if o.Locked {
		sb.WriteString(", locked")
	}
	sb.WriteString(");")
	return sb.String()
}

func literal(v Value) string {
	if s, ok := v.AsString(); ok {
		return `"` + Escape(s) + `"`
	}
	return v.Text()
}

func writeComment(w *bufio.Writer, text string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			w.WriteString("//\n")
			continue
		}
		w.WriteString("// ")
		w.WriteString(line)
		w.WriteByte('\n')
	}
}

// Escape returns s with the characters that cannot appear raw inside a
// double-quoted pref string escaped.
func Escape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&sb, `\x%02x`, c)
				continue
			}
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

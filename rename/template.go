package rename

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Context carries the values a template may reference.
type Context struct {
	// Sequence is the 1-based index of the output file within the job.
	Sequence uint
	// InputPath is the most recently opened input file.
	InputPath string
	// Now supplies ${date} and ${time}. Zero means time.Now.
	Now time.Time
	// Getenv resolves environment fields. Nil means os.LookupEnv.
	Getenv func(string) (string, bool)
}

// SyntaxError reports a malformed rename template.
type SyntaxError struct {
	Template string
	Offset   int
	Msg      string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("rename template %q: %s at offset %d", e.Template, e.Msg, e.Offset)
}

type segment struct {
	literal string
	field   string
	arg     string
	hasArg  bool
	start   uint64
}

func (s segment) isField() bool {
	return s.field != ""
}

// Template is a parsed rename template.
type Template struct {
	src      string
	segments []segment
}

// Parse compiles a rename template. Literal text is copied verbatim; a field
// is written ${name} or ${name argument}. Within a field a backslash escapes
// the next character.
func Parse(tmpl string) (*Template, error) {
	t := &Template{src: tmpl}
	var lit strings.Builder
	for i := 0; i < len(tmpl); {
		if !strings.HasPrefix(tmpl[i:], "${") {
			lit.WriteByte(tmpl[i])
			i++
			continue
		}
		start := i
		i += 2
		var body strings.Builder
		closed := false
		for i < len(tmpl) {
			c := tmpl[i]
			if c == '\\' && i+1 < len(tmpl) {
				body.WriteByte(tmpl[i+1])
				i += 2
				continue
			}
			i++
			if c == '}' {
				closed = true
				break
			}
			body.WriteByte(c)
		}
		if !closed {
			return nil, &SyntaxError{Template: tmpl, Offset: start, Msg: "unterminated field"}
		}
		seg, err := parseField(tmpl, start, body.String())
		if err != nil {
			return nil, err
		}
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
		t.segments = append(t.segments, seg)
	}
	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}
	return t, nil
}

func parseField(tmpl string, offset int, body string) (segment, error) {
	tokens := strings.Fields(body)
	switch len(tokens) {
	case 0:
		return segment{}, &SyntaxError{Template: tmpl, Offset: offset, Msg: "empty field"}
	case 1, 2:
	default:
		return segment{}, &SyntaxError{Template: tmpl, Offset: offset, Msg: fmt.Sprintf("field %q takes at most one argument", tokens[0])}
	}
	seg := segment{field: tokens[0], start: 1}
	if len(tokens) == 2 {
		seg.arg = tokens[1]
		seg.hasArg = true
	}
	switch seg.field {
	case "num", "bnum":
		if seg.hasArg {
			n, err := strconv.ParseUint(seg.arg, 10, 64)
			if err != nil {
				return segment{}, &SyntaxError{Template: tmpl, Offset: offset, Msg: fmt.Sprintf("invalid start value %q for %s", seg.arg, seg.field)}
			}
			seg.start = n
		}
	case "dir", "date", "time":
		if seg.hasArg {
			return segment{}, &SyntaxError{Template: tmpl, Offset: offset, Msg: fmt.Sprintf("field %q takes no argument", seg.field)}
		}
	}
	return seg, nil
}

// String returns the template source.
func (t *Template) String() string {
	return t.src
}

// Expand produces the output file name for ctx.
func (t *Template) Expand(ctx Context) (string, error) {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	getenv := ctx.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	seq := ctx.Sequence
	if seq == 0 {
		seq = 1
	}

	var out strings.Builder
	for _, seg := range t.segments {
		if !seg.isField() {
			out.WriteString(seg.literal)
			continue
		}
		switch seg.field {
		case "num":
			out.WriteString(strconv.FormatUint(seg.start+uint64(seq)-1, 10))
		case "bnum":
			if seq > 1 {
				out.WriteString(strconv.FormatUint(seg.start+uint64(seq)-1, 10))
			}
		case "base":
			name := ctx.InputPath
			if seg.hasArg {
				name = strings.TrimSuffix(name, seg.arg)
			}
			_, name = splitPath(name)
			out.WriteString(name)
		case "dir":
			dir, _ := splitPath(ctx.InputPath)
			out.WriteString(dir)
		case "path":
			p := ctx.InputPath
			if seg.hasArg {
				p = strings.TrimSuffix(p, seg.arg)
			}
			out.WriteString(p)
		case "date":
			out.WriteString(now.Format("20060102"))
		case "time":
			out.WriteString(now.Format("150405"))
		default:
			if v, ok := getenv(seg.field); ok {
				out.WriteString(v)
			} else {
				out.WriteString(seg.arg)
			}
		}
	}
	return out.String(), nil
}

// Expand parses tmpl and expands it in one step.
func Expand(tmpl string, ctx Context) (string, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return "", err
	}
	return t.Expand(ctx)
}

// splitPath splits p at its final separator. The directory part excludes the
// separator and is empty when p has none.
func splitPath(p string) (dir, name string) {
	idx := strings.LastIndexByte(p, '/')
	if filepath.Separator != '/' {
		if alt := strings.LastIndexByte(p, filepath.Separator); alt > idx {
			idx = alt
		}
	}
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}

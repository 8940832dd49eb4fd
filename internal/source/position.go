package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrPositionOutOfRange is returned when a position or offset lies outside the text.
var ErrPositionOutOfRange = errors.New("position out of range")

// Position describes a location in the source by line and character column.
// Both are 1-based; columns count characters, not bytes.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Column < q.Column
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// MarshalJSON encodes a position as a [line, column] pair.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Line, p.Column})
}

// UnmarshalJSON accepts [line, column], {"line":..,"column":..} or "line:column".
func (p *Position) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	pos, err := ParsePosition(v)
	if err != nil {
		return err
	}
	*p = pos
	return nil
}

// ParsePosition converts a decoded wire value into a Position.
func ParsePosition(v interface{}) (Position, error) {
	switch x := v.(type) {
	case Position:
		return x, nil
	case *Position:
		if x == nil {
			return Position{}, errors.New("nil position")
		}
		return *x, nil
	case []interface{}:
		if len(x) != 2 {
			return Position{}, fmt.Errorf("expected [line, column] but got %d elements", len(x))
		}
		line, err := toInt(x[0])
		if err != nil {
			return Position{}, fmt.Errorf("line: %w", err)
		}
		col, err := toInt(x[1])
		if err != nil {
			return Position{}, fmt.Errorf("column: %w", err)
		}
		return Position{Line: line, Column: col}, nil
	case []int:
		if len(x) != 2 {
			return Position{}, fmt.Errorf("expected [line, column] but got %d elements", len(x))
		}
		return Position{Line: x[0], Column: x[1]}, nil
	case map[string]interface{}:
		line, err := toInt(x["line"])
		if err != nil {
			return Position{}, fmt.Errorf("line: %w", err)
		}
		col, err := toInt(x["column"])
		if err != nil {
			return Position{}, fmt.Errorf("column: %w", err)
		}
		return Position{Line: line, Column: col}, nil
	case string:
		parts := strings.Split(x, ":")
		if len(parts) != 2 {
			return Position{}, fmt.Errorf("expected line:column but got %q", x)
		}
		line, err := strconv.Atoi(parts[0])
		if err != nil {
			return Position{}, fmt.Errorf("line: %w", err)
		}
		col, err := strconv.Atoi(parts[1])
		if err != nil {
			return Position{}, fmt.Errorf("column: %w", err)
		}
		return Position{Line: line, Column: col}, nil
	default:
		return Position{}, fmt.Errorf("expected a position but got %T", v)
	}
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("expected an integer but got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case nil:
		return 0, errors.New("missing value")
	default:
		return 0, fmt.Errorf("expected an integer but got %T", v)
	}
}

// Span is a half-open byte range [Start, End) of the source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// Empty reports whether the span is zero-width.
func (s Span) Empty() bool { return s.Start == s.End }

// Contains reports whether s fully covers o.
func (s Span) Contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

// Overlaps reports whether the two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// lineIndex maps byte offsets to line starts.
type lineIndex struct {
	starts []int
}

func newLineIndex(text string) lineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return lineIndex{starts: starts}
}

// lineEnd returns the offset of the newline ending line (0-based), or len(text).
func (li lineIndex) lineEnd(line int, textLen int) int {
	if line+1 < len(li.starts) {
		return li.starts[line+1] - 1
	}
	return textLen
}

// Offset converts a position into a byte offset.
// The column may point one past the last character of a line.
func (t *Tree) Offset(p Position) (int, error) {
	if p.Line < 1 || p.Line > len(t.lines.starts) {
		return 0, fmt.Errorf("line %d: %w (source has %d lines)", p.Line, ErrPositionOutOfRange, len(t.lines.starts))
	}
	if p.Column < 1 {
		return 0, fmt.Errorf("column %d: %w", p.Column, ErrPositionOutOfRange)
	}
	start := t.lines.starts[p.Line-1]
	end := t.lines.lineEnd(p.Line-1, len(t.text))
	off := start
	for c := 1; c < p.Column; c++ {
		if off >= end {
			return 0, fmt.Errorf("column %d on line %d: %w", p.Column, p.Line, ErrPositionOutOfRange)
		}
		_, size := utf8.DecodeRuneInString(t.text[off:end])
		off += size
	}
	return off, nil
}

// Position converts a byte offset into a position.
func (t *Tree) Position(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(t.text) {
		offset = len(t.text)
	}
	line := sort.Search(len(t.lines.starts), func(i int) bool {
		return t.lines.starts[i] > offset
	}) - 1
	start := t.lines.starts[line]
	return Position{
		Line:   line + 1,
		Column: utf8.RuneCountInString(t.text[start:offset]) + 1,
	}
}


package region

import (
	"errors"
	"testing"

	"reddel/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeDefs = "def a(): pass\n\n# between\ndef b(): pass\n\ndef c(): pass\n"

func parse(t *testing.T, text string) *source.Tree {
	t.Helper()
	tree, err := source.Parse(text)
	require.NoError(t, err)
	return tree
}

func pos(line, col int) source.Position { return source.Position{Line: line, Column: col} }

func names(sel source.Selection) []string {
	var out []string
	for _, n := range sel.Nodes {
		out = append(out, n.Child("name").Text())
	}
	return out
}

func TestResolveWholeSource(t *testing.T) {
	tree := parse(t, threeDefs)
	sel, err := Resolve(tree, nil, Options{})
	require.NoError(t, err)
	assert.True(t, sel.Whole)
	assert.Equal(t, []string{"a", "b", "c"}, names(sel))
	assert.Equal(t, 0, sel.Span.Start)
}

func TestResolveRegion(t *testing.T) {
	tree := parse(t, threeDefs)

	tests := []struct {
		name   string
		region Region
		want   []string
	}{
		{"exact node", Region{pos(4, 1), pos(4, 14)}, []string{"b"}},
		{"partial overlap widens", Region{pos(4, 5), pos(6, 3)}, []string{"b", "c"}},
		{"comment gap start", Region{pos(2, 1), pos(4, 2)}, []string{"b"}},
		{"covering everything", Region{pos(1, 1), pos(7, 1)}, []string{"a", "b", "c"}},
		{"point inside node", Region{pos(6, 5), pos(6, 5)}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Resolve(tree, &tt.region, Options{})
			require.NoError(t, err)
			assert.False(t, sel.Whole)
			assert.Equal(t, tt.want, names(sel))
		})
	}
}

func TestResolveErrors(t *testing.T) {
	tree := parse(t, threeDefs)

	tests := []struct {
		name   string
		region Region
		opts   Options
		kind   Kind
	}{
		{"only whitespace", Region{pos(2, 1), pos(3, 5)}, Options{}, KindEmpty},
		{"point between nodes", Region{pos(2, 1), pos(2, 1)}, Options{}, KindEmpty},
		{"line past end", Region{pos(1, 1), pos(40, 1)}, Options{}, KindOutOfBounds},
		{"column past line end", Region{pos(1, 30), pos(4, 1)}, Options{}, KindOutOfBounds},
		{"inverted", Region{pos(4, 1), pos(1, 1)}, Options{}, KindInverted},
		{"strict cut", Region{pos(4, 5), pos(6, 3)}, Options{Strict: true}, KindMisaligned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tree, &tt.region, tt.opts)
			require.Error(t, err)
			var rerr *Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.kind, rerr.Kind)
		})
	}
}

func TestStrictAcceptsAlignedRegion(t *testing.T) {
	tree := parse(t, threeDefs)
	sel, err := Resolve(tree, &Region{pos(3, 1), pos(6, 14)}, Options{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, names(sel))
}

func TestOutOfBoundsWrapsSourceError(t *testing.T) {
	tree := parse(t, "x = 1\n")
	_, err := Resolve(tree, &Region{pos(9, 1), pos(9, 2)}, Options{})
	assert.ErrorIs(t, err, source.ErrPositionOutOfRange)
}

package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantKind  SelectionKind
		wantPages []int // resolved against a 10 page document
	}{
		{name: "empty means all", input: "", wantKind: SelectAll, wantPages: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{name: "all keyword", input: "ALL", wantKind: SelectAll, wantPages: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{name: "single page", input: "4", wantKind: SelectSingle, wantPages: []int{4}},
		{name: "closed range", input: "2-5", wantKind: SelectRange, wantPages: []int{2, 3, 4, 5}},
		{name: "range of one", input: "3-3", wantKind: SelectRange, wantPages: []int{3}},
		{name: "open range", input: "8-end", wantKind: SelectRange, wantPages: []int{8, 9, 10}},
		{name: "list", input: "1,4,6", wantKind: SelectList, wantPages: []int{1, 4, 6}},
		{name: "list sorted and deduplicated", input: "6, 1,4,1", wantKind: SelectList, wantPages: []int{1, 4, 6}},
		{name: "list with range", input: "1,3-5,9", wantKind: SelectList, wantPages: []int{1, 3, 4, 5, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := ParseSelection(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, sel.Kind)

			pages, err := sel.Resolve(10)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPages, pages)
		})
	}
}

func TestParseSelection_Invalid(t *testing.T) {
	inputs := []string{
		"abc",
		"0",
		"-3",
		"5-2",
		"1,,2",
		"1,x",
		"2-end,5",
		"a-b",
		"3-",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSelection(input)
			require.Error(t, err)

			var selErr *SelectionError
			assert.True(t, errors.As(err, &selErr), "want *SelectionError, got %T", err)
		})
	}
}

func TestPageSelection_ResolveOutOfRange(t *testing.T) {
	for _, input := range []string{"11", "9-12", "11-end", "2,12"} {
		t.Run(input, func(t *testing.T) {
			sel, err := ParseSelection(input)
			require.NoError(t, err)

			_, err = sel.Resolve(10)
			var selErr *SelectionError
			require.ErrorAs(t, err, &selErr)
			assert.Equal(t, "SEL002", MapError(err).Code)
		})
	}
}

func TestPageSelection_ResolveEmptyDocument(t *testing.T) {
	sel, err := ParseSelection("all")
	require.NoError(t, err)

	_, err = sel.Resolve(0)
	assert.ErrorIs(t, err, ErrDocumentUnreadable)
}

func TestPageSelection_String(t *testing.T) {
	sel, err := ParseSelection(" 1,3 ")
	require.NoError(t, err)
	assert.Equal(t, "1,3", sel.String())

	assert.Equal(t, "all", PageSelection{}.String())
}

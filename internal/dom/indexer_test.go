package dom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// -- Mocks --

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Evaluate(ctx context.Context, fn string, res any, args ...any) error {
	callArgs := m.Called(ctx, fn, res, args)
	if fill, ok := callArgs.Get(1).(func(res any)); ok && fill != nil {
		fill(res)
	}
	return callArgs.Error(0)
}

func fillWith(url string, elements ...IndexedElement) func(res any) {
	return func(res any) {
		out := res.(*extraction)
		out.URL = url
		out.Elements = elements
	}
}

var sampleElements = []IndexedElement{
	{Tag: "input", Label: "Search", Locator: "#q", Kind: "search"},
	{Tag: "a", Label: "About", Locator: `//a[contains(normalize-space(.), "About")]`, Kind: "a"},
	{Tag: "button", Label: "Sign in", Locator: `[data-testid="login"]`, Kind: "submit"},
}

// -- Test Cases --

func TestIndexerExtract(t *testing.T) {
	t.Run("assigns dense one-based indices", func(t *testing.T) {
		page := new(mockEvaluator)
		page.On("Evaluate", mock.Anything, ExtractScript, mock.Anything, []any{50}).
			Return(nil, fillWith("https://example.com/", sampleElements...)).Once()

		ix := NewIndexer(page, 50, time.Second, zaptest.NewLogger(t))
		table, err := ix.Extract(context.Background())
		require.NoError(t, err)

		require.Equal(t, 3, table.Len())
		for i, el := range table.Elements {
			assert.Equal(t, i+1, el.Index)
		}
		assert.Equal(t, "https://example.com/", table.URL)
		assert.Same(t, table, ix.Current())
		page.AssertExpectations(t)
	})

	t.Run("caps the table at the element limit", func(t *testing.T) {
		page := new(mockEvaluator)
		page.On("Evaluate", mock.Anything, ExtractScript, mock.Anything, []any{2}).
			Return(nil, fillWith("https://example.com/", sampleElements...)).Once()

		ix := NewIndexer(page, 2, 0, zaptest.NewLogger(t))
		table, err := ix.Extract(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, table.Len())
	})

	t.Run("failure yields an empty table with an error block", func(t *testing.T) {
		page := new(mockEvaluator)
		page.On("Evaluate", mock.Anything, ExtractScript, mock.Anything, mock.Anything).
			Return(errors.New("execution context was destroyed"), nil).Once()

		ix := NewIndexer(page, 50, time.Second, zaptest.NewLogger(t))
		table, err := ix.Extract(context.Background())
		require.Error(t, err)
		require.NotNil(t, table)
		assert.Zero(t, table.Len())
		assert.Contains(t, table.Render(), "Error extracting DOM: execution context was destroyed")
	})

	t.Run("each extraction advances the generation", func(t *testing.T) {
		page := new(mockEvaluator)
		page.On("Evaluate", mock.Anything, ExtractScript, mock.Anything, mock.Anything).
			Return(nil, fillWith("https://example.com/", sampleElements...))

		ix := NewIndexer(page, 50, time.Second, zaptest.NewLogger(t))
		first, err := ix.Extract(context.Background())
		require.NoError(t, err)
		second, err := ix.Extract(context.Background())
		require.NoError(t, err)

		assert.Greater(t, second.Generation, first.Generation)

		_, err = ix.Resolve(1, first.Generation)
		assert.ErrorIs(t, err, ErrStaleIndex)
		el, err := ix.Resolve(1, second.Generation)
		require.NoError(t, err)
		assert.Equal(t, "#q", el.Locator)
	})
}

// Index i of a k-element table resolves to the i-th element; i = k+1 is an
// index error and never a panic.
func TestTableResolveStability(t *testing.T) {
	table := &Table{Generation: 7, URL: "https://example.com/"}
	for i, el := range sampleElements {
		el.Index = i + 1
		table.Elements = append(table.Elements, el)
	}

	for i := 1; i <= table.Len(); i++ {
		el, err := table.Resolve(i, 7)
		require.NoError(t, err)
		assert.Equal(t, sampleElements[i-1].Locator, el.Locator)
	}

	for _, bad := range []int{0, -1, table.Len() + 1, 1000} {
		assert.NotPanics(t, func() {
			_, err := table.Resolve(bad, 7)
			assert.ErrorIs(t, err, ErrIndexOutOfRange)
		})
	}

	var empty *Table
	_, err := empty.Resolve(1, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestTableRender(t *testing.T) {
	table := &Table{
		URL: "https://example.com/",
		Elements: []IndexedElement{
			{Index: 1, Tag: "input", Label: "Search", Locator: "#q"},
			{Index: 2, Tag: "a", Label: "About", Locator: `//a[contains(normalize-space(.), "About")]`},
		},
	}
	want := "URL: https://example.com/\n\n" +
		"Interactive elements (2):\n" +
		"[1]<input>Search</input> → #q\n" +
		"[2]<a>About</a> → //a[contains(normalize-space(.), \"About\")]\n"
	assert.Equal(t, want, table.Render())
}

func TestJSPath(t *testing.T) {
	assert.True(t, IsXPath(`//a[contains(., "x")]`))
	assert.True(t, IsXPath(`(//button)[2]`))
	assert.False(t, IsXPath(`#q`))

	assert.Equal(t, `document.querySelector("[name=\"q\"]")`, JSPath(`[name="q"]`))
	assert.Equal(t,
		`document.evaluate("//a[contains(normalize-space(.), \"About\")]", document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
		JSPath(`//a[contains(normalize-space(.), "About")]`))
}

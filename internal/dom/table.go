// File: internal/dom/table.go
package dom

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIndexOutOfRange is returned when an index does not address any element of the table.
	ErrIndexOutOfRange = errors.New("element index out of range")
	// ErrStaleIndex is returned when a reference was issued against an older extraction.
	ErrStaleIndex = errors.New("element index refers to a previous extraction")
)

// IndexedElement is one interactive element of the page as presented to the model.
type IndexedElement struct {
	// Index is 1-based and dense within its table.
	Index   int    `json:"index"`
	Tag     string `json:"tag"`
	Label   string `json:"label"`
	// Locator is an opaque CSS or XPath string resolvable by the page controller.
	Locator string `json:"locator"`
	// Kind is the input type, ARIA role or tag name.
	Kind    string `json:"kind"`
}

// Table is the result of one extraction. Indices are only meaningful together
// with the table's Generation.
type Table struct {
	Generation uint64
	URL        string
	Elements   []IndexedElement
	// Err is set when extraction failed; the table is then empty.
	Err error
}

// Len returns the number of indexed elements.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Elements)
}

// Resolve maps index to its element, checking that the reference was issued
// against this table.
func (t *Table) Resolve(index int, generation uint64) (IndexedElement, error) {
	if t == nil {
		return IndexedElement{}, fmt.Errorf("%w: no elements extracted", ErrIndexOutOfRange)
	}
	if generation != t.Generation {
		return IndexedElement{}, fmt.Errorf("%w: reference from extraction %d, current is %d", ErrStaleIndex, generation, t.Generation)
	}
	if index < 1 || index > len(t.Elements) {
		return IndexedElement{}, fmt.Errorf("%w: [%d] not in 1..%d", ErrIndexOutOfRange, index, len(t.Elements))
	}
	return t.Elements[index-1], nil
}

// Render produces the textual page context for the model:
//
//	URL: https://example.com
//
//	Interactive elements (2):
//	[1]<input>Search</input> → #q
//	[2]<a>About</a> → //a[contains(normalize-space(.), "About")]
func (t *Table) Render() string {
	if t == nil {
		return "Interactive elements (0):\n"
	}
	if t.Err != nil {
		return fmt.Sprintf("Error extracting DOM: %v\n", t.Err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n\n", t.URL)
	fmt.Fprintf(&sb, "Interactive elements (%d):\n", len(t.Elements))
	for _, el := range t.Elements {
		fmt.Fprintf(&sb, "[%d]<%s>%s</%s> → %s\n", el.Index, el.Tag, el.Label, el.Tag, el.Locator)
	}
	return sb.String()
}

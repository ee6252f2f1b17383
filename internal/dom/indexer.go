// File: internal/dom/indexer.go
package dom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExtractScript collects visible interactive elements. It takes the maximum
// number of elements to return and yields {url, elements:[{tag,label,locator,kind}]}.
const ExtractScript = `(maxElements) => {
	const candidates = 'button, a, input, textarea, select, [role="button"], [role="link"], [role="menuitem"], ' +
		'[role="textbox"], [role="combobox"], [role="searchbox"], [role="search"], [onclick], div[role], span[role]';

	const isVisible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) return false;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden' || parseFloat(style.opacity) === 0) return false;
		return el.offsetParent !== null || style.position === 'fixed';
	};

	const squash = (s) => (s || '').replace(/\s+/g, ' ').trim();

	const labelOf = (el) => squash(
		el.getAttribute('aria-label') ||
		el.getAttribute('placeholder') ||
		el.getAttribute('title') ||
		el.getAttribute('alt') ||
		el.innerText || el.textContent
	).slice(0, 80);

	const xpathLiteral = (s) => {
		if (!s.includes('"')) return '"' + s + '"';
		if (!s.includes("'")) return "'" + s + "'";
		return null;
	};

	const locatorOf = (el, tag) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const testId = el.getAttribute('data-testid');
		if (testId) return '[data-testid=' + JSON.stringify(testId) + ']';
		const name = el.getAttribute('name');
		if (name) return '[name=' + JSON.stringify(name) + ']';
		const placeholder = el.getAttribute('placeholder');
		if (placeholder) return '[placeholder=' + JSON.stringify(placeholder) + ']';
		const text = squash(el.innerText || el.textContent).slice(0, 30);
		if (!text) return null;
		const literal = xpathLiteral(text);
		if (!literal) return null;
		return '//' + tag + '[contains(normalize-space(.), ' + literal + ')]';
	};

	const elements = [];
	for (const el of document.querySelectorAll(candidates)) {
		if (elements.length >= maxElements) break;
		try {
			if (!isVisible(el)) continue;
			const label = labelOf(el);
			if (!label) continue;
			const tag = el.tagName.toLowerCase();
			const locator = locatorOf(el, tag);
			if (!locator) continue;
			elements.push({
				tag: tag,
				label: label,
				locator: locator,
				kind: el.getAttribute('type') || el.getAttribute('role') || tag,
			});
		} catch (e) {
			// Detached or exotic nodes are skipped.
		}
	}
	return { url: location.href, elements: elements };
}`

// Evaluator is the part of the page controller the indexer needs.
type Evaluator interface {
	Evaluate(ctx context.Context, fn string, res any, args ...any) error
}

type extraction struct {
	URL      string           `json:"url"`
	Elements []IndexedElement `json:"elements"`
}

// Indexer extracts element tables and keeps the most recent one as the
// authoritative index→locator mapping.
type Indexer struct {
	page        Evaluator
	maxElements int
	timeout     time.Duration
	logger      *zap.Logger

	mu         sync.RWMutex
	generation uint64
	current    *Table
}

// NewIndexer creates an indexer returning at most maxElements per extraction.
func NewIndexer(page Evaluator, maxElements int, timeout time.Duration, logger *zap.Logger) *Indexer {
	return &Indexer{
		page:        page,
		maxElements: maxElements,
		timeout:     timeout,
		logger:      logger.Named("indexer"),
	}
}

// Extract runs the extraction script and replaces the current table. On failure
// the new table is empty, carries the error and is still installed, so no
// reference from an earlier extraction can resolve afterwards.
func (ix *Indexer) Extract(ctx context.Context) (*Table, error) {
	if ix.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.timeout)
		defer cancel()
	}

	var raw extraction
	evalErr := ix.page.Evaluate(ctx, ExtractScript, &raw, ix.maxElements)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.generation++
	table := &Table{Generation: ix.generation}

	if evalErr != nil {
		table.Err = evalErr
		ix.current = table
		ix.logger.Warn("Element extraction failed.", zap.Error(evalErr))
		return table, fmt.Errorf("failed to extract interactive elements: %w", evalErr)
	}

	table.URL = raw.URL
	elements := raw.Elements
	if len(elements) > ix.maxElements {
		elements = elements[:ix.maxElements]
	}
	table.Elements = make([]IndexedElement, 0, len(elements))
	for i, el := range elements {
		el.Index = i + 1
		table.Elements = append(table.Elements, el)
	}
	ix.current = table

	ix.logger.Debug("Extracted interactive elements.",
		zap.Uint64("generation", table.Generation),
		zap.Int("count", len(table.Elements)),
		zap.String("url", table.URL))
	return table, nil
}

// Current returns the most recent table, or nil before the first extraction.
func (ix *Indexer) Current() *Table {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.current
}

// Resolve looks up a reference in the current table.
func (ix *Indexer) Resolve(index int, generation uint64) (IndexedElement, error) {
	return ix.Current().Resolve(index, generation)
}

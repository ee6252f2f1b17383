// File: internal/dom/locator.go
package dom

import (
	"strings"

	json "github.com/json-iterator/go"
)

// Locators produced by the indexer are opaque strings in one of two forms:
// a CSS selector, or an XPath expression starting with "/" or "(".

// IsXPath reports whether locator is an XPath expression.
func IsXPath(locator string) bool {
	return strings.HasPrefix(locator, "/") || strings.HasPrefix(locator, "(")
}

// JSPath renders a JavaScript expression that evaluates to the first element
// matched by locator, or null.
func JSPath(locator string) string {
	encoded, err := json.ConfigCompatibleWithStandardLibrary.MarshalToString(locator)
	if err != nil {
		encoded = `""`
	}
	if IsXPath(locator) {
		return "document.evaluate(" + encoded + ", document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue"
	}
	return "document.querySelector(" + encoded + ")"
}

// resolveElementJS declares __resolve(locator) for scripts that receive a
// locator as an argument.
const resolveElementJS = `
	const __resolve = (loc) => {
		if (loc.startsWith('/') || loc.startsWith('(')) {
			return document.evaluate(loc, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		}
		return document.querySelector(loc);
	};`

// SearchFieldProbeScript takes a locator and reports whether the element looks
// like a search input, which is submitted with Enter after typing.
const SearchFieldProbeScript = `(locator) => {` + resolveElementJS + `
	const el = __resolve(locator);
	if (!el) return false;
	const attr = (n) => (el.getAttribute(n) || '').toLowerCase();
	return attr('type') === 'search' ||
		attr('role') === 'searchbox' ||
		attr('placeholder').includes('search') ||
		attr('name').includes('search') ||
		attr('id').includes('search');
}`

// ForceClickScript clicks the element from script, bypassing hit-testing.
const ForceClickScript = `(locator) => {` + resolveElementJS + `
	const el = __resolve(locator);
	if (!el) throw new Error('element not found: ' + locator);
	el.click();
	return true;
}`

// ClearFieldScript focuses the element and empties its value, firing the
// events frameworks listen for.
const ClearFieldScript = `(locator) => {` + resolveElementJS + `
	const el = __resolve(locator);
	if (!el) throw new Error('element not found: ' + locator);
	el.focus();
	if (el.isContentEditable) {
		el.textContent = '';
	} else if ('value' in el) {
		el.value = '';
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

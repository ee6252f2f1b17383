package schemas

import (
	"context"
)

// -- Page Control Interface --

// PageController is the narrow surface the agent uses to drive a single browser
// tab. Every method is bounded by the deadline carried on ctx; implementations
// must return promptly once ctx is done.
//
// Locators are opaque strings produced by the element indexer. They are either
// CSS selectors or XPath expressions (starting with "/" or "("), and an
// implementation must resolve both forms.
type PageController interface {
	// Navigate loads url and returns once the document has reached the
	// DOMContentLoaded milestone.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until the element addressed by locator is rendered
	// and visible.
	WaitVisible(ctx context.Context, locator string) error
	// Click clicks the element. With force set, the click is dispatched from
	// script, bypassing visibility and hit-testing checks.
	Click(ctx context.Context, locator string, force bool) error
	// Fill clears the element's current value and types text into it.
	Fill(ctx context.Context, locator, text string) error
	// PressEnter sends an Enter key press to the element.
	PressEnter(ctx context.Context, locator string) error
	// ScrollIntoView scrolls the element into the viewport.
	ScrollIntoView(ctx context.Context, locator string) error
	// ScrollBy scrolls the viewport by the given pixel deltas.
	ScrollBy(ctx context.Context, dx, dy float64) error
	// Screenshot captures the visible viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// CurrentURL reports the URL of the current document.
	CurrentURL(ctx context.Context) (string, error)
	// Evaluate invokes the JavaScript function expression fn with args
	// (JSON-encoded) and decodes its return value into res. res may be nil.
	Evaluate(ctx context.Context, fn string, res any, args ...any) error
}

// -- Oracle Interface --

// GenerationOptions tunes a single oracle request.
type GenerationOptions struct {
	Temperature float32
	// ForceJSONFormat asks the provider for a structured JSON response when the
	// provider supports it.
	ForceJSONFormat bool
	MaxTokens       int
}

// GenerationRequest is a provider-neutral prompt.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Image is an optional PNG attached to the user turn. Providers that cannot
	// accept images ignore it.
	Image   []byte
	Options GenerationOptions
}

// Oracle is the language model the agent consults for instruction parsing and
// next-action decisions.
type Oracle interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

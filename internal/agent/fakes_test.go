package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/dataset"
	"github.com/xkilldash9x/webtrail/internal/dom"
)

// -- Test Helpers --

// noSleep disables settle delays for the duration of a test.
func noSleep(t *testing.T) {
	t.Helper()
	orig := sleep
	sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	t.Cleanup(func() { sleep = orig })
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gradientPNG(t testing.TB) []byte {
	img := image.NewGray(image.Rect(0, 0, 256, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 256; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x)})
		}
	}
	return encodePNG(t, img)
}

func checkerPNG(t testing.TB) []byte {
	img := image.NewGray(image.Rect(0, 0, 256, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 256; x++ {
			if (x/32+y/32)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return encodePNG(t, img)
}

// -- Fake Page --

// fakePage is a scripted browser tab. Its screen is selected by state and
// changes through the onEnter and onClick hooks.
type fakePage struct {
	mu sync.Mutex

	url      string
	state    string
	screens  map[string][]byte
	elements []dom.IndexedElement
	search   map[string]bool

	navErr        error
	clickErr      map[string]error
	forceErr      map[string]error
	fillErr       error
	screenshotErr error
	panicOnClick  bool

	onEnter func(p *fakePage, locator string)
	onClick func(p *fakePage, locator string)

	calls []string
}

var _ schemas.PageController = (*fakePage)(nil)

func (p *fakePage) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	if p.navErr != nil {
		return p.navErr
	}
	p.url = url
	return ctx.Err()
}

func (p *fakePage) WaitVisible(ctx context.Context, locator string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wait_visible %s", locator)
	return ctx.Err()
}

func (p *fakePage) Click(ctx context.Context, locator string, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOnClick {
		panic("click exploded")
	}
	if force {
		p.record("force_click %s", locator)
		if err := p.forceErr[locator]; err != nil {
			return err
		}
	} else {
		p.record("click %s", locator)
		if err := p.clickErr[locator]; err != nil {
			return err
		}
	}
	if p.onClick != nil {
		p.onClick(p, locator)
	}
	return nil
}

func (p *fakePage) Fill(ctx context.Context, locator, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("fill %s %s", locator, text)
	return p.fillErr
}

func (p *fakePage) PressEnter(ctx context.Context, locator string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("enter %s", locator)
	if p.onEnter != nil {
		p.onEnter(p, locator)
	}
	return nil
}

func (p *fakePage) ScrollIntoView(ctx context.Context, locator string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll_into_view %s", locator)
	return nil
}

func (p *fakePage) ScrollBy(ctx context.Context, dx, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll_by %.0f %.0f", dx, dy)
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot")
	if p.screenshotErr != nil {
		return nil, p.screenshotErr
	}
	return p.screens[p.state], nil
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Evaluate(ctx context.Context, fn string, res any, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch fn {
	case dom.ExtractScript:
		p.record("extract")
		payload, err := json.ConfigCompatibleWithStandardLibrary.Marshal(map[string]any{
			"url":      p.url,
			"elements": p.elements,
		})
		if err != nil {
			return err
		}
		return json.ConfigCompatibleWithStandardLibrary.Unmarshal(payload, res)
	case dom.SearchFieldProbeScript:
		locator, _ := args[0].(string)
		p.record("probe %s", locator)
		if out, ok := res.(*bool); ok {
			*out = p.search[locator]
		}
		return nil
	}
	p.record("evaluate")
	return nil
}

// -- Scripted Oracle --

// scriptedOracle answers instruction parsing with parse and every decision
// with decide, recording the requests it saw.
type scriptedOracle struct {
	mu       sync.Mutex
	parse    string
	parseErr error
	decide   func(n int, req schemas.GenerationRequest) (string, error)
	requests []schemas.GenerationRequest
}

func (o *scriptedOracle) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if req.SystemPrompt == parseSystemPrompt {
		return o.parse, o.parseErr
	}
	if o.decide == nil {
		return "", errors.New("no decision scripted")
	}
	return o.decide(len(o.decisionRequests())-1, req)
}

func (o *scriptedOracle) Close() error { return nil }

// decisionRequests must be called with mu held or after the run.
func (o *scriptedOracle) decisionRequests() []schemas.GenerationRequest {
	var out []schemas.GenerationRequest
	for _, r := range o.requests {
		if r.SystemPrompt != parseSystemPrompt {
			out = append(out, r)
		}
	}
	return out
}

// sequence returns the responses in order and repeats the last one.
func sequence(responses ...string) func(int, schemas.GenerationRequest) (string, error) {
	return func(n int, _ schemas.GenerationRequest) (string, error) {
		if n >= len(responses) {
			n = len(responses) - 1
		}
		return responses[n], nil
	}
}

const (
	exampleParse = `{"app_name": "example", "url": "https://example.com", "task": "search for cats"}`
	typeCats     = `{"thinking": "The search box is element 1", "evaluation_previous_goal": "Page loaded", "memory": "On the home page", "next_goal": "Type cats into the search box", "action": [{"input_text": {"index": 1, "text": "cats"}}]}`
	clickFirst   = `{"thinking": "Clicking the button", "next_goal": "Click element 1", "action": [{"click_element": {"index": 1}}]}`
	doneOK       = `{"thinking": "Results are shown", "next_goal": "Finish", "action": [{"done": {"text": "searched for cats", "success": true}}]}`
)

// -- Fake Sink --

type failingSink struct {
	dir       string
	saveErr   error
	finalized *dataset.Outcome
}

func (s *failingSink) SaveScreenshot(dataset.Capture) (dataset.Screenshot, error) {
	return dataset.Screenshot{}, s.saveErr
}

func (s *failingSink) Finalize(o dataset.Outcome) (*dataset.Metadata, error) {
	s.finalized = &o
	return &dataset.Metadata{Status: o.Status}, nil
}

func (s *failingSink) Dir() string { return s.dir }
func (s *failingSink) Count() int  { return 0 }

// Package browsertest provides an in-memory browser for tests of code that
// drives browser.Page. Locators resolve against a static element table
// using the same label and text matching rules as the real drivers.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/harmoniq/a11yprobe/internal/browser"
)

// pngHeader is written by Screenshot so callers can sniff the file type.
var pngHeader = []byte("\x89PNG\r\n\x1a\n")

// Element is one entry in the fake document.
type Element struct {
	Visible bool
	Attrs   map[string]string
	// OnClick runs against the page when the element is clicked.
	OnClick func(p *Page)
}

// Page is a fake browser.Page. Every call is appended to Events.
type Page struct {
	mu sync.Mutex

	Labels map[string]*Element
	Texts  map[string]*Element

	NavigateErr   error
	IdleErr       error
	ScreenshotErr error
	Nodes         []browser.A11yNode
	SnapshotErr   error

	InitScripts []string
	Events      []string
}

// Studio returns a page shaped like a healthy Studio: the tip button is
// visible and clicking the Theory tab reveals the piano keys.
func Studio() *Page {
	p := &Page{
		Labels: map[string]*Element{
			"Get new production tip": {Visible: true},
			"Note C":                 {Attrs: map[string]string{"aria-pressed": "false"}},
			"Note C#":                {Attrs: map[string]string{"aria-pressed": "false"}},
		},
		Texts: map[string]*Element{
			"Mix": {Visible: true},
		},
	}
	p.Texts["Theory"] = &Element{
		Visible: true,
		OnClick: func(p *Page) {
			p.Labels["Note C"].Visible = true
			p.Labels["Note C#"].Visible = true
		},
	}
	return p
}

func (p *Page) record(format string, args ...any) {
	p.Events = append(p.Events, fmt.Sprintf(format, args...))
}

// EventLog returns a copy of the recorded calls.
func (p *Page) EventLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Events...)
}

func (p *Page) AddInitScript(ctx context.Context, source string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitScripts = append(p.InitScripts, source)
	p.record("init-script")
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	return p.NavigateErr
}

func (p *Page) WaitForNetworkIdle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("network-idle")
	return p.IdleErr
}

func (p *Page) Screenshot(ctx context.Context, path string, fullPage bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot %s full=%t", path, fullPage)
	if p.ScreenshotErr != nil {
		return p.ScreenshotErr
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, pngHeader, 0o644)
}

func (p *Page) GetByLabel(label string, exact bool) browser.Locator {
	return &Locator{page: p, kind: "label", value: label, exact: exact}
}

func (p *Page) GetByText(text string, exact bool) browser.Locator {
	return &Locator{page: p, kind: "text", value: text, exact: exact}
}

func (p *Page) AccessibilitySnapshot(ctx context.Context) ([]browser.A11yNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("snapshot")
	return p.Nodes, p.SnapshotErr
}

// Locator resolves against the page's element table on every call.
type Locator struct {
	page  *Page
	kind  string
	value string
	exact bool
}

func (l *Locator) String() string {
	s := fmt.Sprintf("%s %q", l.kind, l.value)
	if l.exact {
		s += " (exact)"
	}
	return s
}

// matches must be called with the page lock held.
func (l *Locator) matches() []*Element {
	table := l.page.Texts
	if l.kind == "label" {
		table = l.page.Labels
	}
	want := strings.Join(strings.Fields(l.value), " ")
	var out []*Element
	for name, el := range table {
		name = strings.Join(strings.Fields(name), " ")
		if l.exact && name == want {
			out = append(out, el)
		}
		if !l.exact && strings.Contains(strings.ToLower(name), strings.ToLower(want)) {
			out = append(out, el)
		}
	}
	return out
}

func (l *Locator) single() (*Element, error) {
	els := l.matches()
	switch {
	case len(els) == 0:
		return nil, fmt.Errorf("%s: %w", l, browser.ErrNotFound)
	case len(els) > 1:
		return nil, fmt.Errorf("%s resolved to %d elements: %w", l, len(els), browser.ErrStrictMode)
	}
	return els[0], nil
}

func (l *Locator) Click(ctx context.Context) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("click %s", l)
	el, err := l.single()
	if err != nil {
		return err
	}
	if !el.Visible {
		return fmt.Errorf("click %s: element not visible", l)
	}
	if el.OnClick != nil {
		el.OnClick(l.page)
	}
	return nil
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("visible %s", l)
	els := l.matches()
	if len(els) == 0 {
		return false, nil
	}
	el, err := l.single()
	if err != nil {
		return false, err
	}
	return el.Visible, nil
}

func (l *Locator) GetAttribute(ctx context.Context, name string) (string, bool, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("attr %s %s", l, name)
	el, err := l.single()
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

// Browser is a fake browser.Browser serving a single page.
type Browser struct {
	Page       *Page
	NewPageErr error
	CloseErr   error
	Out        string

	mu     sync.Mutex
	closed int
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	return b.Page, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return b.CloseErr
}

// Output mirrors the process output accessor of the chromedp driver.
func (b *Browser) Output() string { return b.Out }

// Closed reports how many times Close was called.
func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Launcher is a fake browser.Launcher returning Browser.
type Launcher struct {
	Browser *Browser
	Err     error

	mu       sync.Mutex
	launches []browser.Options
}

// NewLauncher returns a launcher serving page.
func NewLauncher(page *Page) *Launcher {
	return &Launcher{Browser: &Browser{Page: page}}
}

func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Browser, nil
}

// Launches returns the options of every Launch call.
func (l *Launcher) Launches() []browser.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.Options(nil), l.launches...)
}

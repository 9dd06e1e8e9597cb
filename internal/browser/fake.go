package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

// Fake is an in-memory BrowserSession used by dry runs and tests. Pages are
// seeded up front; interactions are journaled so assertions can replay what
// the agent did without a Chromium process anywhere near the test.
type Fake struct {
	mu sync.Mutex

	// Pages maps URL to the HTML served on navigation.
	pages map[string]string
	// selectors present on the current page, in addition to whatever
	// naturally appears in the markup.
	selectors map[string]bool

	currentURL string
	content    string
	active     bool
	focused    string

	// NavigateErr, when set, fails the next Navigate with this error.
	NavigateErr error

	// Journal records every mutating call in order, e.g. "click #submit".
	Journal []string
}

var _ schemas.BrowserSession = (*Fake)(nil)

// NewFake returns an empty fake session. Seed pages with AddPage.
func NewFake() *Fake {
	return &Fake{
		pages:     make(map[string]string),
		selectors: make(map[string]bool),
	}
}

// AddPage seeds the HTML returned when the fake navigates to url.
func (f *Fake) AddPage(url, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = html
}

// AddSelector marks a selector as present on the current page.
func (f *Fake) AddSelector(selector string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectors[selector] = true
}

func (f *Fake) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NavigateErr != nil {
		err := f.NavigateErr
		f.NavigateErr = nil
		return err
	}
	html, ok := f.pages[url]
	if !ok {
		return &TimeoutError{Op: "navigate", Timeout: 30 * time.Second}
	}
	f.currentURL = url
	f.content = html
	f.active = true
	f.focused = ""
	f.selectors = make(map[string]bool)
	f.Journal = append(f.Journal, "navigate "+url)
	return nil
}

func (f *Fake) WaitForSelector(_ context.Context, selector string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return ErrNoActivePage
	}
	if !f.hasSelectorLocked(selector) {
		return &NotFoundError{Selector: selector, Waited: timeout}
	}
	return nil
}

func (f *Fake) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return ErrNoActivePage
	}
	if !f.hasSelectorLocked(selector) {
		return &NotFoundError{Selector: selector}
	}
	f.focused = selector
	f.Journal = append(f.Journal, "click "+selector)
	return nil
}

func (f *Fake) Type(_ context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return ErrNoActivePage
	}
	if selector == "" {
		if f.focused == "" {
			return &NotFoundError{Selector: ":focus"}
		}
		selector = f.focused
	} else if !f.hasSelectorLocked(selector) {
		return &NotFoundError{Selector: selector}
	}
	f.Journal = append(f.Journal, fmt.Sprintf("type %s %q", selector, text))
	return nil
}

func (f *Fake) Scroll(_ context.Context, direction string, amount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return ErrNoActivePage
	}
	if amount <= 0 {
		amount = 500
	}
	f.Journal = append(f.Journal, fmt.Sprintf("scroll %s %d", direction, amount))
	return nil
}

func (f *Fake) Upload(_ context.Context, selector, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return ErrNoActivePage
	}
	if !f.hasSelectorLocked(selector) {
		return &NotFoundError{Selector: selector}
	}
	f.Journal = append(f.Journal, fmt.Sprintf("upload %s %s", selector, filePath))
	return nil
}

func (f *Fake) Content(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return "", ErrNoActivePage
	}
	return f.content, nil
}

func (f *Fake) Screenshot(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return nil, ErrNoActivePage
	}
	// A valid PNG header is enough for consumers that only base64 it.
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (f *Fake) CurrentURL(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL, nil
}

func (f *Fake) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *Fake) Reset(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.currentURL = ""
	f.content = ""
	f.focused = ""
	f.selectors = make(map[string]bool)
	f.Journal = append(f.Journal, "reset")
	return nil
}

// hasSelectorLocked approximates DOM matching: a selector counts as present
// when it was seeded explicitly or its bare form appears in the markup.
func (f *Fake) hasSelectorLocked(selector string) bool {
	if f.selectors[selector] {
		return true
	}
	needle := strings.TrimLeft(selector, "#.")
	return needle != "" && strings.Contains(f.content, needle)
}

// internal/obstruction/fake_page_test.go
package obstruction_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

// element is the fake DOM state of one locator.
type element struct {
	present   bool
	visible   bool
	clickable bool
}

// fakePage is an in-memory Page. Waits resolve immediately against the
// current state, so a failed wait costs no wall-clock time; the timeout a
// caller asked for is recorded instead.
type fakePage struct {
	mu       sync.Mutex
	elements map[schemas.Locator]*element

	// onClick runs after a synthetic click on the locator.
	onClick map[schemas.Locator]func(p *fakePage)
	// onReload runs after each reload.
	onReload func(p *fakePage)

	// errs injects an error for the named method.
	errs map[string]error

	clicks    []schemas.Locator
	scrolls   []schemas.Locator
	reloads   int
	snapshots []string
	timeouts  []time.Duration
	calls     []string
}

func newFakePage() *fakePage {
	return &fakePage{
		elements: make(map[schemas.Locator]*element),
		onClick:  make(map[schemas.Locator]func(*fakePage)),
		errs:     make(map[string]error),
	}
}

// show makes loc present, visible and clickable.
func (p *fakePage) show(loc schemas.Locator) *fakePage {
	p.elements[loc] = &element{present: true, visible: true, clickable: true}
	return p
}

// hide makes loc present but not displayed.
func (p *fakePage) hide(loc schemas.Locator) {
	if el, ok := p.elements[loc]; ok {
		el.visible, el.clickable = false, false
	}
}

func (p *fakePage) remove(loc schemas.Locator) {
	delete(p.elements, loc)
}

func (p *fakePage) state(loc schemas.Locator) element {
	if el, ok := p.elements[loc]; ok {
		return *el
	}
	return element{}
}

func (p *fakePage) record(name string, timeout time.Duration) error {
	p.calls = append(p.calls, name)
	if timeout >= 0 {
		p.timeouts = append(p.timeouts, timeout)
	}
	return p.errs[name]
}

func (p *fakePage) wait(name string, loc schemas.Locator, timeout time.Duration, ok func(element) bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(name, timeout); err != nil {
		return err
	}
	if ok(p.state(loc)) {
		return nil
	}
	return fmt.Errorf("waiting for %s: %w after %s", loc, schemas.ErrWaitTimeout, timeout)
}

func (p *fakePage) WaitPresent(_ context.Context, loc schemas.Locator, timeout time.Duration) error {
	return p.wait("WaitPresent", loc, timeout, func(e element) bool { return e.present })
}

func (p *fakePage) WaitVisible(_ context.Context, loc schemas.Locator, timeout time.Duration) error {
	return p.wait("WaitVisible", loc, timeout, func(e element) bool { return e.visible })
}

func (p *fakePage) WaitClickable(_ context.Context, loc schemas.Locator, timeout time.Duration) error {
	return p.wait("WaitClickable", loc, timeout, func(e element) bool { return e.clickable })
}

func (p *fakePage) WaitInvisible(_ context.Context, loc schemas.Locator, timeout time.Duration) error {
	return p.wait("WaitInvisible", loc, timeout, func(e element) bool { return !e.visible })
}

func (p *fakePage) WaitDocumentComplete(_ context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("WaitDocumentComplete", timeout)
}

func (p *fakePage) ScrollIntoViewCenter(_ context.Context, loc schemas.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ScrollIntoViewCenter", -1); err != nil {
		return err
	}
	if !p.state(loc).present {
		return fmt.Errorf("scroll %s: %w", loc, schemas.ErrNoSuchElement)
	}
	p.scrolls = append(p.scrolls, loc)
	return nil
}

func (p *fakePage) SyntheticClick(_ context.Context, loc schemas.Locator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SyntheticClick", -1); err != nil {
		return err
	}
	if !p.state(loc).present {
		return fmt.Errorf("synthetic click %s: %w", loc, schemas.ErrNoSuchElement)
	}
	p.clicks = append(p.clicks, loc)
	if fn := p.onClick[loc]; fn != nil {
		fn(p)
	}
	return nil
}

func (p *fakePage) Reload(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Reload", -1); err != nil {
		return err
	}
	p.reloads++
	if p.onReload != nil {
		p.onReload(p)
	}
	return nil
}

func (p *fakePage) Snapshot(_ context.Context, name string) (schemas.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Snapshot", -1); err != nil {
		return schemas.Snapshot{}, err
	}
	p.snapshots = append(p.snapshots, name)
	return schemas.Snapshot{
		Name:       name,
		URL:        "https://eda.example/moscow",
		MIMEType:   "image/png",
		Data:       []byte("\x89PNG fake"),
		CapturedAt: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

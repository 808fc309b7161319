// internal/browser/session/locator.go
package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/dishcheck/api/schemas"
)

// resolverJS evaluates to a function (strategy, selector) -> Element[]. Lookups
// happen in the page at call time so that a locator always reflects the
// current DOM.
const resolverJS = `(function(strategy, selector) {
	switch (strategy) {
	case "css":
		return Array.from(document.querySelectorAll(selector));
	case "xpath": {
		const snap = document.evaluate(selector, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < snap.snapshotLength; i++) {
			const n = snap.snapshotItem(i);
			if (n.nodeType === Node.ELEMENT_NODE) out.push(n);
		}
		return out;
	}
	case "id": {
		const el = document.getElementById(selector);
		return el ? [el] : [];
	}
	case "tag":
		return Array.from(document.getElementsByTagName(selector));
	case "name":
		return Array.from(document.getElementsByName(selector));
	}
	throw new Error("unsupported locator strategy: " + strategy);
})`

// helpersJS defines the visibility and enabled checks used by Selenium's
// expected conditions, adapted to the computed style API.
const helpersJS = `
	const isVisible = (el) => {
		if (!el.isConnected) return false;
		const st = window.getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden' || st.visibility === 'collapse') return false;
		if (parseFloat(st.opacity) === 0) return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const isEnabled = (el) => !el.disabled && el.getAttribute('aria-disabled') !== 'true';
	const pick = (els) => els.find((el) => isVisible(el) && isEnabled(el)) || els.find(isVisible) || els[0] || null;
`

// elementState is what the page reports about a locator in one evaluation.
type elementState struct {
	Count     int    `json:"count"`
	Visible   int    `json:"visible"`
	Clickable int    `json:"clickable"`
	Ready     string `json:"ready"`
	Error     string `json:"error,omitempty"`
}

// stateScript builds an expression reporting how many elements match loc and
// how many of them are visible and clickable. Resolution errors (for example a
// malformed XPath) are reported in the result rather than thrown so they can
// be told apart from transient evaluation failures.
func stateScript(loc schemas.Locator) string {
	return fmt.Sprintf(`(function() {
	%s
	let els;
	try {
		els = %s(%s, %s);
	} catch (e) {
		return { count: 0, visible: 0, clickable: 0, ready: document.readyState, error: String(e && e.message || e) };
	}
	let visible = 0, clickable = 0;
	for (const el of els) {
		if (!isVisible(el)) continue;
		visible++;
		if (isEnabled(el)) clickable++;
	}
	return { count: els.length, visible: visible, clickable: clickable, ready: document.readyState };
})()`, helpersJS, resolverJS, jsString(string(loc.Strategy)), jsString(loc.Selector))
}

// elementScript builds an expression that resolves loc, picks the best
// candidate (clickable, then visible, then first) and evaluates body with the
// candidate bound to el. The expression yields false when nothing matched.
func elementScript(loc schemas.Locator, body string) string {
	return fmt.Sprintf(`(function() {
	%s
	const el = pick(%s(%s, %s));
	if (!el) return false;
	%s
	return true;
})()`, helpersJS, resolverJS, jsString(string(loc.Strategy)), jsString(loc.Selector), body)
}

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// queryFor maps a locator to chromedp's selector and query option for the
// native (pointer and keyboard) actions, which resolve elements through the
// DOM domain instead of the JS resolver.
func queryFor(loc schemas.Locator) (string, chromedp.QueryOption, error) {
	switch loc.Strategy {
	case schemas.ByCSS, schemas.ByTagName:
		return loc.Selector, chromedp.ByQuery, nil
	case schemas.ByXPath:
		return loc.Selector, chromedp.BySearch, nil
	case schemas.ByID:
		return loc.Selector, chromedp.ByID, nil
	case schemas.ByName:
		return fmt.Sprintf(`[name="%s"]`, strings.ReplaceAll(loc.Selector, `"`, `\"`)), chromedp.ByQuery, nil
	}
	return "", nil, fmt.Errorf("unsupported locator strategy %q", loc.Strategy)
}

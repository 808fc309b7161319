package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLocator marks locators that can never resolve, either because
// they fail Validate or because the page rejected the selector syntax.
var ErrInvalidLocator = errors.New("invalid locator")

// Strategy names the lookup mechanism used to resolve a Locator.
type Strategy string

const (
	ByCSS     Strategy = "css"
	ByXPath   Strategy = "xpath"
	ByID      Strategy = "id"
	ByTagName Strategy = "tag"
	ByName    Strategy = "name"
)

// Strategies lists every supported strategy in a stable order.
var Strategies = []Strategy{ByCSS, ByXPath, ByID, ByTagName, ByName}

// ParseStrategy maps a user supplied strategy name onto a Strategy.
// Selenium-style spellings ("css selector", "tag name") are accepted too.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "css", "css selector", "css_selector":
		return ByCSS, nil
	case "xpath":
		return ByXPath, nil
	case "id":
		return ByID, nil
	case "tag", "tag name", "tag_name":
		return ByTagName, nil
	case "name":
		return ByName, nil
	}
	return "", fmt.Errorf("unknown locator strategy %q", s)
}

// Locator identifies zero or more DOM elements. It is resolved against the
// live page every time it is used, never cached.
type Locator struct {
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	Selector string   `json:"selector" yaml:"selector"`
}

// CSS is shorthand for a CSS selector locator.
func CSS(selector string) Locator { return Locator{Strategy: ByCSS, Selector: selector} }

// XPath is shorthand for an XPath locator.
func XPath(expr string) Locator { return Locator{Strategy: ByXPath, Selector: expr} }

// ID is shorthand for an element id locator.
func ID(id string) Locator { return Locator{Strategy: ByID, Selector: id} }

// Validate reports whether the locator can be resolved at all.
func (l Locator) Validate() error {
	if strings.TrimSpace(l.Selector) == "" {
		return fmt.Errorf("%w: %q has an empty selector", ErrInvalidLocator, l.Strategy)
	}
	for _, s := range Strategies {
		if l.Strategy == s {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown locator strategy %q", ErrInvalidLocator, l.Strategy)
}

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.Strategy, l.Selector)
}

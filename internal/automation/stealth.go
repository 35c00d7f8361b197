// Package automation runs signup flows in a real browser. Each attempt gets a
// fresh browser wired to the attempt's proxy, so no state leaks between
// identities.
package automation

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// PageFactory opens the page an attempt works in. Splitting this out keeps
// fingerprint evasion a capability of the page, not of the runner.
type PageFactory interface {
	Page(browser *rod.Browser, url string) (*rod.Page, error)
}

// PlainPageFactory opens an ordinary page. This is the default.
type PlainPageFactory struct{}

func (PlainPageFactory) Page(browser *rod.Browser, url string) (*rod.Page, error) {
	return browser.Page(proto.TargetCreateTarget{URL: url})
}

// StealthPageFactory opens pages with the stealth evasions injected before
// navigation.
type StealthPageFactory struct{}

func (StealthPageFactory) Page(browser *rod.Browser, url string) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, err
	}
	if err := page.Navigate(url); err != nil {
		return nil, err
	}
	return page, nil
}

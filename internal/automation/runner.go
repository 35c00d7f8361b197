package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"rookery/internal/batch"
	"rookery/internal/domain"
	"rookery/internal/support"
)

// ErrPermanent marks flow failures no retry can fix (the site rejected the
// identity outright, the form changed shape). Wrap it to abandon the item
// immediately.
var ErrPermanent = errors.New("permanent signup failure")

// FlowFunc is the site-specific part of a signup: it drives the opened page
// with the given identity profile and returns the result payload.
type FlowFunc func(ctx context.Context, page *rod.Page, profile []byte) ([]byte, error)

// RodRunner performs one signup attempt per call in a dedicated headless
// browser routed through the attempt's proxy.
type RodRunner struct {
	signupURL string
	headless  bool
	pages     PageFactory
	flow      FlowFunc
}

type RodOption func(*RodRunner)

// WithPageFactory swaps how pages are opened, e.g. for stealth evasions.
func WithPageFactory(factory PageFactory) RodOption {
	return func(r *RodRunner) {
		r.pages = factory
	}
}

// WithFlow installs the site-specific signup flow.
func WithFlow(flow FlowFunc) RodOption {
	return func(r *RodRunner) {
		r.flow = flow
	}
}

func WithHeadless(headless bool) RodOption {
	return func(r *RodRunner) {
		r.headless = headless
	}
}

func NewRodRunner(signupURL string, opts ...RodOption) *RodRunner {
	r := &RodRunner{
		signupURL: signupURL,
		headless:  true,
		pages:     PlainPageFactory{},
		flow:      defaultFlow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attempt launches a browser, routes it through the proxy, runs the flow and
// classifies whatever comes back. The browser never outlives the attempt.
func (r *RodRunner) Attempt(ctx context.Context, proxy domain.ProxyRecord, profile []byte) batch.Outcome {
	launch := launcher.New().Headless(r.headless)
	if proxy.Host != "" {
		launch = launch.Proxy(proxyFlagValue(proxy))
	}
	defer launch.Cleanup()

	controlURL, err := launch.Launch()
	if err != nil {
		return batch.Retryable(fmt.Errorf("automation: launch browser: %w", err))
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return batch.Retryable(fmt.Errorf("automation: connect browser: %w", err))
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.Debug("Browser close failed.", "error", err)
		}
	}()

	if proxy.HasAuth() {
		go browser.MustHandleAuth(proxy.Username, proxy.Password)()
	}

	page, err := r.pages.Page(browser, r.signupURL)
	if err != nil {
		return r.classify(fmt.Errorf("automation: open page: %w", err), nil)
	}

	payload, err := r.flow(ctx, page, profile)
	return r.classify(err, payload)
}

func (r *RodRunner) classify(err error, payload []byte) batch.Outcome {
	switch {
	case err == nil:
		return batch.Success(payload)
	case errors.Is(err, ErrPermanent):
		return batch.Fatal(err)
	default:
		return batch.Retryable(err)
	}
}

// proxyFlagValue renders the record for chromium's --proxy-server flag, which
// needs an explicit scheme for SOCKS proxies.
func proxyFlagValue(record domain.ProxyRecord) string {
	if support.IsSocksProtocol(record.Protocol) {
		return fmt.Sprintf("%s://%s", support.NormalizeProxyProtocol(record.Protocol), record.Address())
	}
	return record.Address()
}

// defaultFlow just proves the page is reachable through the proxy and hands
// the profile back as the result. Real deployments install a site flow.
func defaultFlow(ctx context.Context, page *rod.Page, profile []byte) ([]byte, error) {
	if err := page.Context(ctx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("automation: wait for page load: %w", err)
	}
	return profile, nil
}

// Package chrome drives the back office through a real Chrome instance using
// the DevTools protocol.
package chrome

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/dvloznov/txn-harvester/internal/logger"
	"github.com/dvloznov/txn-harvester/internal/renderer"
)

// Options configure a browser session.
type Options struct {
	BaseURL  string
	Username string
	Password string

	// BasicAuthUser and BasicAuthPass, when set, are sent as an
	// Authorization header on every request.
	BasicAuthUser string
	BasicAuthPass string

	Headless bool
	// ExecPath overrides Chrome discovery.
	ExecPath string

	// ActionTimeout bounds every single protocol action. Defaults to 30s.
	ActionTimeout time.Duration
	// PollInterval is used by WaitReady. Defaults to 250ms.
	PollInterval time.Duration

	Selectors renderer.Selectors
}

// Renderer is a chromedp-backed renderer.Renderer. Handles are *cdp.Node
// values and go stale on navigation.
type Renderer struct {
	opts Options
	base *url.URL

	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// New launches Chrome and opens a tab. ctx provides the logger; the browser
// lives until Close.
func New(ctx context.Context, opts Options) (*Renderer, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("New: invalid base URL %q", opts.BaseURL)
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}

	log := logger.FromContext(ctx).With().Str("component", "chrome").Logger()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1440, 1000),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Debug().Msgf(format, args...)
		}),
	)

	r := &Renderer{opts: opts, base: base, tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	startup := []chromedp.Action{network.Enable()}
	if h := basicAuthHeader(opts.BasicAuthUser, opts.BasicAuthPass); h != "" {
		startup = append(startup, network.SetExtraHTTPHeaders(network.Headers{"Authorization": h}))
	}
	// The first Run on a fresh tab context starts the browser.
	if err := chromedp.Run(tab, startup...); err != nil {
		r.Close()
		return nil, fmt.Errorf("New: starting browser: %w", err)
	}

	log.Info().Bool("headless", opts.Headless).Str("base_url", base.String()).Msg("Browser started")
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.cancelTab()
	r.cancelAlloc()
}

// run executes actions on the tab, bounded by the action timeout and by ctx.
// Cancelling a context derived from the tab aborts the action but keeps the
// tab open.
func (r *Renderer) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(r.tab, r.opts.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(actx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *Renderer) Navigate(ctx context.Context, target string) error {
	u, err := r.resolve(target)
	if err != nil {
		return fmt.Errorf("Navigate: %w", err)
	}
	if err := r.run(ctx, chromedp.Navigate(u)); err != nil {
		return fmt.Errorf("Navigate: %s: %w", u, err)
	}
	return nil
}

// IsSessionValid is false on a login or auth URL, or when the login form is
// on the page.
func (r *Renderer) IsSessionValid(ctx context.Context) bool {
	var loc string
	if err := r.run(ctx, chromedp.Location(&loc)); err != nil {
		return false
	}
	if isLoginURL(loc) {
		return false
	}
	if r.opts.Selectors.LoginPassword == "" {
		return true
	}
	_, err := r.Query(ctx, nil, r.opts.Selectors.LoginPassword)
	return errors.Is(err, renderer.ErrNotFound)
}

func (r *Renderer) QueryAll(ctx context.Context, scope renderer.Handle, selector string) ([]renderer.Handle, error) {
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if n, ok := scope.(*cdp.Node); ok && n != nil {
		opts = append(opts, chromedp.FromNode(n))
	}

	var nodes []*cdp.Node
	if err := r.run(ctx, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("QueryAll %q: %w", selector, err)
	}
	out := make([]renderer.Handle, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out, nil
}

func (r *Renderer) Query(ctx context.Context, scope renderer.Handle, selector string) (renderer.Handle, error) {
	all, err := r.QueryAll(ctx, scope, selector)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("Query %q: %w", selector, renderer.ErrNotFound)
	}
	return all[0], nil
}

func (r *Renderer) ReadText(ctx context.Context, h renderer.Handle) (string, error) {
	ids, err := nodeIDs(h)
	if err != nil {
		return "", fmt.Errorf("ReadText: %w", err)
	}
	var text string
	if err := r.run(ctx, chromedp.Text(ids, &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("ReadText: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (r *Renderer) ReadAttribute(ctx context.Context, h renderer.Handle, name string) (string, bool, error) {
	ids, err := nodeIDs(h)
	if err != nil {
		return "", false, fmt.Errorf("ReadAttribute: %w", err)
	}
	var (
		value string
		ok    bool
	)
	if err := r.run(ctx, chromedp.AttributeValue(ids, name, &value, &ok, chromedp.ByNodeID)); err != nil {
		return "", false, fmt.Errorf("ReadAttribute %q: %w", name, err)
	}
	return value, ok, nil
}

func (r *Renderer) Click(ctx context.Context, h renderer.Handle) error {
	ids, err := nodeIDs(h)
	if err != nil {
		return fmt.Errorf("Click: %w", err)
	}
	if err := r.run(ctx, chromedp.Click(ids, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("Click: %w", err)
	}
	return nil
}

// FillText replaces the value of an input by typing, so the page's input
// handlers see the change.
func (r *Renderer) FillText(ctx context.Context, h renderer.Handle, value string) error {
	ids, err := nodeIDs(h)
	if err != nil {
		return fmt.Errorf("FillText: %w", err)
	}
	err = r.run(ctx,
		chromedp.Clear(ids, chromedp.ByNodeID),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
	)
	if err != nil {
		return fmt.Errorf("FillText: %w", err)
	}
	return nil
}

func (r *Renderer) WaitReady(ctx context.Context, pred func(context.Context) bool, timeout time.Duration) bool {
	return renderer.Poll(ctx, pred, timeout, r.opts.PollInterval)
}

// OpenDetail clicks the row's detail button and waits for the overlay.
func (r *Renderer) OpenDetail(ctx context.Context, row renderer.Handle) (renderer.Handle, error) {
	sel := r.opts.Selectors
	btn, err := r.Query(ctx, row, sel.DetailButton)
	if err != nil {
		return nil, fmt.Errorf("OpenDetail: %w", err)
	}
	if err := r.Click(ctx, btn); err != nil {
		return nil, fmt.Errorf("OpenDetail: %w", err)
	}

	var overlay renderer.Handle
	found := r.WaitReady(ctx, func(ctx context.Context) bool {
		h, err := r.Query(ctx, nil, sel.DetailOverlay)
		if err != nil {
			return false
		}
		overlay = h
		return true
	}, r.opts.ActionTimeout)
	if !found {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("OpenDetail: overlay did not appear: %w", renderer.ErrNotFound)
	}
	return overlay, nil
}

// CloseDetail clicks the overlay's close button, falling back to Escape.
func (r *Renderer) CloseDetail(ctx context.Context) error {
	sel := r.opts.Selectors
	if btn, err := r.Query(ctx, nil, sel.CloseButton); err == nil {
		if err := r.Click(ctx, btn); err == nil {
			return r.waitOverlayGone(ctx)
		}
	}
	if err := r.run(ctx, chromedp.KeyEvent(kb.Escape)); err != nil {
		return fmt.Errorf("CloseDetail: %w", err)
	}
	return r.waitOverlayGone(ctx)
}

func (r *Renderer) waitOverlayGone(ctx context.Context) error {
	gone := r.WaitReady(ctx, func(ctx context.Context) bool {
		_, err := r.Query(ctx, nil, r.opts.Selectors.DetailOverlay)
		return errors.Is(err, renderer.ErrNotFound)
	}, 5*time.Second)
	if !gone {
		return fmt.Errorf("CloseDetail: overlay still open")
	}
	return nil
}

// Login fills the form on the base URL and waits for a valid session.
func (r *Renderer) Login(ctx context.Context) error {
	log := logger.FromContext(ctx)
	sel := r.opts.Selectors

	if r.opts.Username == "" || r.opts.Password == "" {
		return fmt.Errorf("Login: no credentials configured")
	}
	if err := r.Navigate(ctx, r.base.String()); err != nil {
		return fmt.Errorf("Login: %w", err)
	}
	if r.IsSessionValid(ctx) {
		log.Debug().Msg("Session already valid")
		return nil
	}

	err := r.run(ctx,
		chromedp.WaitVisible(sel.LoginEmail, chromedp.ByQuery),
		chromedp.SendKeys(sel.LoginEmail, r.opts.Username, chromedp.ByQuery),
		chromedp.SendKeys(sel.LoginPassword, r.opts.Password, chromedp.ByQuery),
		chromedp.Click(sel.LoginSubmit, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("Login: submitting form: %w", err)
	}

	if !r.WaitReady(ctx, r.IsSessionValid, r.opts.ActionTimeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("Login: session still invalid after submit")
	}
	log.Info().Msg("Logged in")
	return nil
}

func (r *Renderer) resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target %q: %w", target, err)
	}
	return r.base.ResolveReference(ref).String(), nil
}

func nodeIDs(h renderer.Handle) ([]cdp.NodeID, error) {
	n, ok := h.(*cdp.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("handle %T is not a DOM node", h)
	}
	return []cdp.NodeID{n.NodeID}, nil
}

func isLoginURL(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	return strings.Contains(p, "login") || strings.Contains(p, "auth")
}

func basicAuthHeader(user, pass string) string {
	if user == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

var (
	_ renderer.Renderer      = (*Renderer)(nil)
	_ renderer.Authenticator = (*Renderer)(nil)
)

// Package fakerenderer provides a scripted in-memory Renderer for tests.
// Selectors are treated as opaque keys: a node's children are looked up by the
// exact selector string the caller passes.
package fakerenderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/txn-harvester/internal/renderer"
)

// Node is one element of the fake document.
type Node struct {
	Text     string
	Attrs    map[string]string
	Children map[string][]*Node
	Detail   *Node

	OnClick func()
	OnFill  func(value string)
}

// NewNode creates a node with the given text.
func NewNode(text string) *Node {
	return &Node{Text: text, Attrs: map[string]string{}, Children: map[string][]*Node{}}
}

// Add appends children under selector and returns n for chaining.
func (n *Node) Add(selector string, children ...*Node) *Node {
	n.Children[selector] = append(n.Children[selector], children...)
	return n
}

// Row describes one list-view row in terms of the texts the page shows.
type Row struct {
	TransactionNo string
	ExternalRef   string
	CustomerRef   string
	CustomerID    string
	CustomerName  string
	Requested     string
	Result        string
	Status        string
	Dates         string
	// Detail is the overlay text. Empty means the row has no detail button.
	Detail string
}

// Renderer is the scripted fake.
type Renderer struct {
	mu sync.Mutex

	sel      renderer.Selectors
	pages    []*Node
	current  int
	controls *Node
	open     *Node

	SessionValid bool
	LoginErr     error
	NavigateErr  error
	// DetailErr, when set, fails every OpenDetail call.
	DetailErr error
	// OnOpenDetail runs at the start of OpenDetail, before the lock is taken.
	OnOpenDetail func()

	Logins       int
	Navigations  []string
	DetailOpens  int
	DetailCloses int
	Searches     int
	Clears       int
	DateFloors   []string
}

// New builds a renderer whose list view has one page per rows slice. Every
// page but the last gets an enabled next button; the last gets a disabled one.
func New(sel renderer.Selectors, pages ...[]Row) *Renderer {
	r := &Renderer{sel: sel, SessionValid: true, controls: NewNode("")}
	for i, rows := range pages {
		page := BuildPage(sel, rows)
		next := NewNode(">")
		if i == len(pages)-1 {
			next.Attrs["disabled"] = ""
		} else {
			next.OnClick = func() { r.current++ }
		}
		page.Add(sel.NextPage, next)
		r.pages = append(r.pages, page)
	}
	if len(r.pages) == 0 {
		r.pages = append(r.pages, NewNode(""))
	}
	r.installFilterControls()
	return r
}

// BuildPage builds a page node holding rows under the row selector.
func BuildPage(sel renderer.Selectors, rows []Row) *Node {
	page := NewNode("")
	for _, row := range rows {
		page.Add(sel.Rows, BuildRow(sel, row))
	}
	return page
}

// BuildRow builds one row node with its cell groups.
func BuildRow(sel renderer.Selectors, row Row) *Node {
	n := NewNode("")
	n.Add(sel.RefButtons, NewNode(row.TransactionNo), NewNode(row.ExternalRef), NewNode(row.CustomerRef))
	n.Add(sel.CustomerCell, NewNode(row.CustomerID), NewNode(row.CustomerName))
	n.Add(sel.AmountCell, NewNode(row.Requested), NewNode(row.Result))
	if row.Status != "" {
		n.Add(sel.StatusBadge, NewNode(row.Status))
	}
	n.Add(sel.DatesCell, NewNode(row.Dates))
	if row.Detail != "" {
		n.Add(sel.DetailButton, NewNode("Detay"))
		n.Detail = NewNode(row.Detail)
	}
	return n
}

// Page returns the page node at index i so tests can tweak it.
func (r *Renderer) Page(i int) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pages[i]
}

// CurrentPage returns the zero-based index of the page being shown.
func (r *Renderer) CurrentPage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Controls returns the node holding the filter controls.
func (r *Renderer) Controls() *Node { return r.controls }

// AddCombobox registers a select-like control showing defaultLabel. Clicking it
// exposes options; clicking an option sets the control's label.
func (r *Renderer) AddCombobox(defaultLabel string, options ...string) *Node {
	combo := NewNode(defaultLabel)
	combo.Attrs["data-default"] = defaultLabel
	combo.OnClick = func() {
		var opts []*Node
		for _, o := range options {
			opt := NewNode(o)
			label := o
			opt.OnClick = func() {
				combo.Text = label
				delete(r.controls.Children, r.sel.Option)
			}
			opts = append(opts, opt)
		}
		r.controls.Children[r.sel.Option] = opts
	}
	r.controls.Add(r.sel.Combobox, combo)
	return combo
}

// RemoveControl drops every control registered under selector.
func (r *Renderer) RemoveControl(selector string) {
	delete(r.controls.Children, selector)
}

func (r *Renderer) installFilterControls() {
	clearBtn := NewNode("Temizle")
	clearBtn.OnClick = func() {
		r.Clears++
		for _, c := range r.controls.Children[r.sel.Combobox] {
			c.Text = c.Attrs["data-default"]
		}
	}
	r.controls.Add(r.sel.ClearFilters, clearBtn)

	date := NewNode("")
	date.OnFill = func(v string) { r.DateFloors = append(r.DateFloors, v) }
	r.controls.Add(r.sel.DateFloor, date)

	search := NewNode("Ara")
	search.OnClick = func() {
		r.Searches++
		r.current = 0
	}
	r.controls.Add(r.sel.Search, search)
}

func (r *Renderer) Navigate(ctx context.Context, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Navigations = append(r.Navigations, target)
	if r.NavigateErr != nil {
		return r.NavigateErr
	}
	r.current = 0
	return nil
}

func (r *Renderer) IsSessionValid(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SessionValid
}

// Login marks the session valid unless LoginErr is set.
func (r *Renderer) Login(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logins++
	if r.LoginErr != nil {
		return r.LoginErr
	}
	r.SessionValid = true
	return nil
}

func (r *Renderer) QueryAll(ctx context.Context, scope renderer.Handle, selector string) ([]renderer.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var nodes []*Node
	if scope == nil {
		nodes = append(nodes, r.pages[r.current].Children[selector]...)
		nodes = append(nodes, r.controls.Children[selector]...)
		if r.open != nil && selector == r.sel.DetailOverlay {
			nodes = append(nodes, r.open)
		}
	} else {
		n, err := asNode(scope)
		if err != nil {
			return nil, err
		}
		nodes = n.Children[selector]
	}

	out := make([]renderer.Handle, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
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
	n, err := asNode(h)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return n.Text, nil
}

func (r *Renderer) ReadAttribute(ctx context.Context, h renderer.Handle, name string) (string, bool, error) {
	n, err := asNode(h)
	if err != nil {
		return "", false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (r *Renderer) Click(ctx context.Context, h renderer.Handle) error {
	n, err := asNode(h)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.OnClick != nil {
		n.OnClick()
	}
	return nil
}

func (r *Renderer) FillText(ctx context.Context, h renderer.Handle, value string) error {
	n, err := asNode(h)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n.Attrs["value"] = value
	if n.OnFill != nil {
		n.OnFill(value)
	}
	return nil
}

// WaitReady evaluates pred once; the fake document never changes on its own.
func (r *Renderer) WaitReady(ctx context.Context, pred func(context.Context) bool, timeout time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	return pred(ctx)
}

func (r *Renderer) OpenDetail(ctx context.Context, row renderer.Handle) (renderer.Handle, error) {
	n, err := asNode(row)
	if err != nil {
		return nil, err
	}
	if r.OnOpenDetail != nil {
		r.OnOpenDetail()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("OpenDetail: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DetailOpens++
	if r.DetailErr != nil {
		return nil, r.DetailErr
	}
	if n.Detail == nil {
		return nil, fmt.Errorf("OpenDetail: %w", renderer.ErrNotFound)
	}
	r.open = n.Detail
	return n.Detail, nil
}

func (r *Renderer) CloseDetail(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DetailCloses++
	r.open = nil
	return nil
}

func asNode(h renderer.Handle) (*Node, error) {
	n, ok := h.(*Node)
	if !ok || n == nil {
		return nil, errors.New("fakerenderer: foreign handle")
	}
	return n, nil
}

var (
	_ renderer.Renderer      = (*Renderer)(nil)
	_ renderer.Authenticator = (*Renderer)(nil)
)

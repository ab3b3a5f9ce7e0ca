package paginate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/renderer"
	"github.com/dvloznov/txn-harvester/internal/renderer/fakerenderer"
)

func pages(n int) [][]fakerenderer.Row {
	out := make([][]fakerenderer.Row, n)
	for i := range out {
		out[i] = []fakerenderer.Row{{TransactionNo: "row"}, {TransactionNo: "row2"}}
	}
	return out
}

func countAll(_ context.Context, _ int, rows []renderer.Handle) (int, error) {
	return len(rows), nil
}

func TestForEachPage_StopsAtDisabledNext(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		sel := renderer.DefaultSelectors()
		fake := fakerenderer.New(sel, pages(n)...)
		p := New(fake, sel).WithTimings(0, 0)

		var seen []int
		visited, err := p.ForEachPage(context.Background(), 0, func(ctx context.Context, page int, rows []renderer.Handle) (int, error) {
			seen = append(seen, page)
			return len(rows), nil
		})

		require.NoError(t, err)
		assert.Equal(t, n, visited)
		assert.Len(t, seen, n)
		assert.Equal(t, n-1, fake.CurrentPage())
	}
}

func TestForEachPage_AriaDisabled(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, pages(3)...)
	next := fake.Page(1).Children[sel.NextPage][0]
	next.Attrs["aria-disabled"] = "true"

	visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(context.Background(), 0, countAll)

	require.NoError(t, err)
	assert.Equal(t, 2, visited)
}

func TestForEachPage_NoNextControl(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, pages(3)...)
	delete(fake.Page(0).Children, sel.NextPage)

	visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(context.Background(), 0, countAll)

	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}

func TestForEachPage_MaxPages(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, pages(5)...)

	visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(context.Background(), 3, countAll)

	require.NoError(t, err)
	assert.Equal(t, 3, visited)
}

func TestForEachPage_NoProgress(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, pages(5)...)

	calls := 0
	visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(context.Background(), 0, func(ctx context.Context, page int, rows []renderer.Handle) (int, error) {
		calls++
		if page == 2 {
			return 0, nil
		}
		return len(rows), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, visited)
	assert.Equal(t, 2, calls)
}

func TestForEachPage_HandlerError(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, pages(3)...)
	boom := errors.New("boom")

	visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(context.Background(), 0, func(context.Context, int, []renderer.Handle) (int, error) {
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, visited)
}

func TestForEachPage_Cancelled(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, pages(10)...)
	ctx, cancel := context.WithCancel(context.Background())

	visited, err := New(fake, sel).WithTimings(0, time.Hour).ForEachPage(ctx, 0, func(ctx context.Context, page int, rows []renderer.Handle) (int, error) {
		cancel()
		return len(rows), nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, visited)
}

// flakyRenderer fails row listing from the second page on, or every Click.
type flakyRenderer struct {
	*fakerenderer.Renderer
	rowsSel   string
	failList  bool
	failClick bool
	onFail    context.CancelFunc
}

func (f *flakyRenderer) QueryAll(ctx context.Context, scope renderer.Handle, selector string) ([]renderer.Handle, error) {
	if f.failList && selector == f.rowsSel && scope == nil && f.CurrentPage() > 0 {
		if f.onFail != nil {
			f.onFail()
		}
		return nil, errors.New("action timed out")
	}
	return f.Renderer.QueryAll(ctx, scope, selector)
}

func (f *flakyRenderer) Click(ctx context.Context, h renderer.Handle) error {
	if f.failClick {
		return errors.New("action timed out")
	}
	return f.Renderer.Click(ctx, h)
}

func TestForEachPage_RendererFailuresEndTheWalk(t *testing.T) {
	sel := renderer.DefaultSelectors()

	t.Run("listing rows", func(t *testing.T) {
		fake := &flakyRenderer{Renderer: fakerenderer.New(sel, pages(3)...), rowsSel: sel.Rows, failList: true}
		visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(context.Background(), 0, countAll)
		require.NoError(t, err)
		assert.Equal(t, 1, visited)
	})

	t.Run("turning the page", func(t *testing.T) {
		fake := &flakyRenderer{Renderer: fakerenderer.New(sel, pages(3)...), failClick: true}
		visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(context.Background(), 0, countAll)
		require.NoError(t, err)
		assert.Equal(t, 1, visited)
		assert.Equal(t, 0, fake.CurrentPage())
	})

	t.Run("cancelled while listing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fake := &flakyRenderer{Renderer: fakerenderer.New(sel, pages(3)...), rowsSel: sel.Rows, failList: true, onFail: cancel}
		visited, err := New(fake, sel).WithTimings(0, 0).ForEachPage(ctx, 0, countAll)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, visited)
	})
}

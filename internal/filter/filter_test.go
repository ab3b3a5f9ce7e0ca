package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/domain"
	"github.com/dvloznov/txn-harvester/internal/renderer"
	"github.com/dvloznov/txn-harvester/internal/renderer/fakerenderer"
)

func newFake(t *testing.T) (*fakerenderer.Renderer, []*fakerenderer.Node) {
	t.Helper()
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, []fakerenderer.Row{{TransactionNo: "A", Status: "Onaylandı"}})
	labels := TurkishLabels()
	boxes := []*fakerenderer.Node{
		fake.AddCombobox(labels.StatusDefault, "Onaylandı", "Reddedildi", "Beklemede"),
		fake.AddCombobox(labels.CategoryDefault, "Yatırım", "Çekim"),
		fake.AddCombobox(labels.SortDefault, "En Yeni", "En Eski"),
	}
	return fake, boxes
}

func TestApply_SetsEveryControl(t *testing.T) {
	fake, boxes := newFake(t)
	c := NewController(fake, renderer.DefaultSelectors(), WithLookback(24*time.Hour))

	floor := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	out := c.Apply(context.Background(), Criteria{
		Status:    domain.StatusApproved,
		Category:  domain.CategoryWithdrawal,
		DateFloor: &floor,
		Sort:      SortOldestFirst,
	})

	assert.True(t, out.Complete(), "not applied: %v", out.NotApplied)
	assert.True(t, out.RowsVisible)
	assert.Equal(t, []string{StepClear, StepDateFloor, StepStatus, StepCategory, StepSort, StepSearch}, out.Applied)

	assert.Equal(t, "Onaylandı", boxes[0].Text)
	assert.Equal(t, "Çekim", boxes[1].Text)
	assert.Equal(t, "En Eski", boxes[2].Text)
	assert.Equal(t, []string{"2024-01-09"}, fake.DateFloors)
	assert.Equal(t, 1, fake.Clears)
	assert.Equal(t, 1, fake.Searches)
}

func TestApply_ClearsStaleSelections(t *testing.T) {
	fake, boxes := newFake(t)
	c := NewController(fake, renderer.DefaultSelectors())

	c.Apply(context.Background(), Criteria{Status: domain.StatusApproved, Category: domain.CategoryDeposit})
	require.Equal(t, "Yatırım", boxes[1].Text)

	out := c.Apply(context.Background(), Criteria{Status: domain.StatusApproved, Category: domain.CategoryWithdrawal})

	assert.True(t, out.Complete())
	assert.Equal(t, "Çekim", boxes[1].Text)
	assert.Equal(t, 2, fake.Clears)
}

func TestApply_NoOpWhenAlreadySelected(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel, []fakerenderer.Row{{TransactionNo: "A"}})
	fake.RemoveControl(sel.ClearFilters)
	box := fake.AddCombobox("Durum", "Onaylandı")
	box.Text = "Onaylandı"
	opened := false
	box.OnClick = func() { opened = true }

	out := NewController(fake, sel).Apply(context.Background(), Criteria{Status: domain.StatusApproved})

	assert.False(t, opened)
	assert.Contains(t, out.Applied, StepStatus)
	assert.Equal(t, []string{StepClear}, out.NotApplied)
}

func TestApply_DegradesOnMissingControls(t *testing.T) {
	sel := renderer.DefaultSelectors()
	fake := fakerenderer.New(sel)
	fake.RemoveControl(sel.DateFloor)
	fake.RemoveControl(sel.Search)

	floor := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	out := NewController(fake, sel).Apply(context.Background(), Criteria{
		Status:    domain.StatusApproved,
		Category:  domain.CategoryDeposit,
		DateFloor: &floor,
	})

	assert.False(t, out.Complete())
	assert.ElementsMatch(t, []string{StepDateFloor, StepStatus, StepCategory, StepSearch}, out.NotApplied)
	assert.Equal(t, []string{StepClear}, out.Applied)
	assert.False(t, out.RowsVisible)
}

func TestParseSortOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    SortOrder
		wantErr bool
	}{
		{"", SortNewestFirst, false},
		{"newest", SortNewestFirst, false},
		{"Oldest", SortOldestFirst, false},
		{"sideways", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSortOrder(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

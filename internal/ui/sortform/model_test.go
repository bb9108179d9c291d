package sortform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mlist/internal/model"
)

func TestFieldsRoundTrip(t *testing.T) {
	sp := model.SortParams{
		Criteria: []model.SortCriterion{
			{Key: model.SortDate, Reverse: true},
			{Key: model.SortSubject},
			{Key: model.SortSize},
		},
		Reverse:            true,
		DetectOwnAddresses: true,
		OwnAddresses:       []string{"me@example.com"},
	}
	tp := model.ThreadParams{
		UseThreading:      true,
		GatherSubjects:    true,
		RemoveListPrefix:  true,
		SimplifyingRegex:  `^re:\s*`,
		ReplacementString: "",
	}

	gotSort, gotThread := fieldsFrom(sp, tp).params(sp)

	assert.True(t, gotSort.Equal(sp))
	assert.Equal(t, sp.OwnAddresses, gotSort.OwnAddresses)
	assert.Equal(t, tp, gotThread)
}

func TestFields_ChangingKeysDropsHiddenCriteria(t *testing.T) {
	base := model.SortParams{Criteria: []model.SortCriterion{
		{Key: model.SortDate}, {Key: model.SortSubject}, {Key: model.SortSize},
	}}
	f := fieldsFrom(base, model.ThreadParams{})
	f.Primary = model.SortSender
	f.Secondary = model.SortNone

	sp, _ := f.params(base)
	require.Len(t, sp.Criteria, 1)
	assert.Equal(t, model.SortSender, sp.Criteria[0].Key)
}

func TestValidateRegex(t *testing.T) {
	assert.NoError(t, validateRegex(""))
	assert.NoError(t, validateRegex(`^(re|aw):\s*`))
	assert.Error(t, validateRegex(`(unclosed`))
}

func TestNew(t *testing.T) {
	m := New(model.SortParams{}, model.ThreadParams{UseThreading: true}, 60)
	assert.NotNil(t, m.form)
	assert.True(t, m.f.Threading)
	assert.Equal(t, model.SortNone, m.f.Primary)
}

package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

func TestBuildFilterClauses(t *testing.T) {
	t.Run("nil filter leaves clauses untouched", func(t *testing.T) {
		where := []string{"project_id = $1"}
		args := []any{"p1"}
		where, args = buildFilterClauses(nil, where, args)
		assert.Equal(t, []string{"project_id = $1"}, where)
		assert.Len(t, args, 1)
	})

	t.Run("full filter numbers placeholders sequentially", func(t *testing.T) {
		where := []string{"project_id = $1"}
		args := []any{"p1"}
		filter := &model.NumberFilter{
			Validation: model.ValidationValid,
			Carrier:    "acme",
			LineType:   "mobile",
			Country:    "US",
			AreaCode:   "555",
		}
		where, args = buildFilterClauses(filter, where, args)
		assert.Equal(t, []string{
			"project_id = $1",
			"validation = $2",
			"carrier = $3",
			"line_type = $4",
			"country = $5",
			"number LIKE $6",
		}, where)
		assert.Equal(t, []any{"p1", model.ValidationValid, "acme", "mobile", "US", "555%"}, args)
	})

	t.Run("area code matches prefix", func(t *testing.T) {
		var where []string
		var args []any
		where, args = buildFilterClauses(&model.NumberFilter{AreaCode: "233"}, where, args)
		assert.Equal(t, []string{"number LIKE $1"}, where)
		assert.Equal(t, []any{"233%"}, args)
	})
}

func TestFixedTimeProvider(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tp := NewFixedTimeProvider(base)
	assert.Equal(t, base, tp.Now())

	tp.AddTime(time.Minute)
	assert.Equal(t, base.Add(time.Minute), tp.Now())

	tp.SetTime(base)
	assert.Equal(t, base, tp.Now())
}

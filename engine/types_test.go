package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Betotradicao/TESTES--sub002/engine"
)

func TestPath(t *testing.T) {
	p := engine.ParsePath(" 10/ 3//7 ")
	assert.Equal(t, engine.Path{"10", "3", "7"}, p)
	assert.Equal(t, "10/3/7", p.String())
	assert.Equal(t, "7", p.Code())
	assert.Equal(t, "10/3", p.Parent().String())

	level, ok := p.Level()
	require.True(t, ok)
	assert.Equal(t, engine.LevelSubgroup, level)

	assert.True(t, p.HasPrefix(engine.ParsePath("10/3")))
	assert.True(t, p.HasPrefix(nil))
	assert.False(t, p.HasPrefix(engine.ParsePath("10/4")))
	assert.False(t, engine.ParsePath("10").HasPrefix(p))

	child := p.Parent().Child("9")
	assert.Equal(t, "10/3/9", child.String())
	assert.Equal(t, "10/3/7", p.String(), "Child must not alias the receiver")
}

func TestLevel(t *testing.T) {
	child, ok := engine.LevelSection.Child()
	require.True(t, ok)
	assert.Equal(t, engine.LevelGroup, child)

	_, ok = engine.LevelItem.Child()
	assert.False(t, ok)

	parent, ok := engine.LevelItem.Parent()
	require.True(t, ok)
	assert.Equal(t, engine.LevelSubgroup, parent)

	for in, want := range map[string]engine.Level{
		"secoes": engine.LevelSection, "GROUP": engine.LevelGroup,
		"subgrupo": engine.LevelSubgroup, "itens": engine.LevelItem,
	} {
		got, err := engine.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := engine.ParseLevel("department")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestClassifyCFOP(t *testing.T) {
	tests := []struct {
		cfop string
		want engine.FiscalClass
	}{
		{"1102", engine.FiscalPurchase},
		{"2.403", engine.FiscalPurchase},
		{"1910", engine.FiscalBonus},
		{"9505", engine.FiscalBonus},
		{"1949", engine.FiscalOther},
		{"", engine.FiscalOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.ClassifyCFOP(tt.cfop), tt.cfop)
	}
}

func TestPeriodFilter_DaysAndHash(t *testing.T) {
	f := marchFilter()
	assert.Equal(t, 31, f.Days())
	assert.True(t, f.Contains(time.Date(2025, time.March, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, f.Contains(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)))

	same := marchFilter()
	assert.Equal(t, f.Hash(), same.Hash())

	// Empty modes hash like their defaults
	same.BonusMode = engine.BonusWith
	same.Decomposition = engine.DecompositionParent
	assert.Equal(t, f.Hash(), same.Hash())

	other := marchFilter()
	other.StoreCode = "2"
	assert.NotEqual(t, f.Hash(), other.Hash())
}

func TestParseDate(t *testing.T) {
	d, err := engine.ParseDate("start", "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, march(1), d)

	d, err = engine.ParseDate("start", "15/03/2025")
	require.NoError(t, err)
	assert.Equal(t, march(15), d)

	_, err = engine.ParseDate("end", "")
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "end", verr.Field)

	_, err = engine.ParseDate("end", "yesterday")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestParseModes(t *testing.T) {
	m, err := engine.ParseBonusMode("somente")
	require.NoError(t, err)
	assert.Equal(t, engine.BonusOnly, m)

	d, err := engine.ParseDecompositionMode("filhos")
	require.NoError(t, err)
	assert.Equal(t, engine.DecompositionChildren, d)

	dir, err := engine.ParseDirection("emprestado")
	require.NoError(t, err)
	assert.Equal(t, engine.DirectionBorrowed, dir)

	_, err = engine.ParseDecompositionMode("ambos")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

package service

import (
	"testing"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseScore(t *testing.T) {
	tests := []struct {
		name string
		home int
		away int
		o1x2 model.Outcome1X2
		ou   model.OutcomeOU
	}{
		{"主胜小球", 1, 0, model.OutcomeHome, model.OutcomeUnder},
		{"0-0 是平局", 0, 0, model.OutcomeDraw, model.OutcomeUnder},
		{"高比分平局", 2, 2, model.OutcomeDraw, model.OutcomeOver},
		{"主胜大球", 2, 1, model.OutcomeHome, model.OutcomeOver},
		{"客胜", 0, 1, model.OutcomeAway, model.OutcomeUnder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormaliseScore(model.ScoreLine{Home: intp(tt.home), Away: intp(tt.away)})
			require.NoError(t, err)
			assert.Equal(t, tt.o1x2, got.Outcome1X2)
			assert.Equal(t, tt.ou, got.OU25)
			assert.Nil(t, got.HTResult)
		})
	}
}

func TestNormaliseScore_MissingScore(t *testing.T) {
	_, err := NormaliseScore(model.ScoreLine{Home: intp(1)})
	assert.ErrorIs(t, err, model.ErrResultNotSet)

	_, err = NormaliseScore(model.ScoreLine{Home: intp(-1), Away: intp(0)})
	assert.ErrorIs(t, err, model.ErrInvariant)
}

func TestNormaliseScore_Auxiliary(t *testing.T) {
	got, err := NormaliseScore(model.ScoreLine{Home: intp(2), Away: intp(1), HTHome: intp(0), HTAway: intp(1)})
	require.NoError(t, err)
	assert.Equal(t, model.BTTSYes, got.BTTS)
	assert.Equal(t, model.OutcomeOver, got.OU05)
	assert.Equal(t, model.OutcomeOver, got.OU15)
	assert.Equal(t, model.OutcomeUnder, got.OU35)
	require.NotNil(t, got.HTResult)
	assert.Equal(t, model.OutcomeAway, *got.HTResult)
	assert.Equal(t, model.OutcomeUnder, *got.HTOU15)
}

func TestEncodeCycle42Results(t *testing.T) {
	want := chain.ResultPairs{
		{Moneyline: 1, OverUnder: 2}, {Moneyline: 2, OverUnder: 2}, {Moneyline: 2, OverUnder: 1}, {Moneyline: 1, OverUnder: 1}, {Moneyline: 3, OverUnder: 2}, {Moneyline: 2, OverUnder: 1}, {Moneyline: 1, OverUnder: 1}, {Moneyline: 3, OverUnder: 1}, {Moneyline: 2, OverUnder: 2}, {Moneyline: 3, OverUnder: 1},
	}
	var got chain.ResultPairs
	for i, score := range cycle42Scores {
		res, err := BuildResult(cycle42FixtureID(i), model.ScoreLine{Home: intp(score[0]), Away: intp(score[1])}, "test")
		require.NoError(t, err)
		got[i], err = chain.EncodeResult(res.Outcome1X2, res.OutcomeOU25)
		require.NoError(t, err)
	}
	assert.Equal(t, want, got)
	assert.NoError(t, got.Validate())
}

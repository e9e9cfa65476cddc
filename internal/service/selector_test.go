package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var selectDay = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

func fixtureAt(id int64, hour, minute int, league string, home, away string) *model.Fixture {
	return &model.Fixture{
		FixtureID:  id,
		LeagueID:   8,
		LeagueName: league,
		HomeTeam:   home,
		AwayTeam:   away,
		StartTime:  selectDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute),
		State:      model.FixtureNotStarted,
	}
}

func completeOdds(id int64) *model.FixtureOdds {
	return &model.FixtureOdds{FixtureID: id, BookmakerID: 2, Home: 2100, Draw: 3300, Away: 3500, Over: 1900, Under: 1900}
}

// validFixtures n 场可入选的比赛，从 12:00 起每 15 分钟一场
func validFixtures(n int) []*model.Fixture {
	out := make([]*model.Fixture, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fixtureAt(int64(2000+i), 12, 15*i, "Premier League", fmt.Sprintf("Club %d", i), fmt.Sprintf("Rovers %d", i)))
	}
	return out
}

func expectOdds(h *harness, odds map[int64]*model.FixtureOdds) {
	h.source.EXPECT().OddsForFixture(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id int64) (*model.FixtureOdds, error) {
			if o, ok := odds[id]; ok {
				return o, nil
			}
			return nil, nil
		}).AnyTimes()
}

func TestSelect_FiltersAndOrders(t *testing.T) {
	h := newHarness(t)
	h.setNow(selectDay.Add(6 * time.Hour))

	fixtures := validFixtures(10)
	rejected := []*model.Fixture{
		fixtureAt(3001, 14, 0, "Premier League 2 U21", "Arsenal U21", "Chelsea U21"),
		fixtureAt(3002, 14, 0, "Women's Super League", "Arsenal", "Chelsea"),
		fixtureAt(3003, 14, 0, "Segunda", "Real Madrid II", "Getafe"),
		fixtureAt(3004, 14, 0, "Regionalliga", "Bayern B-Team", "Augsburg"),
		fixtureAt(3005, 6, 30, "Premier League", "Early", "Kickoff"), // 距开赛不足 grace
		fixtureAt(3007, 14, 0, "Premier League", "Reserves FC", "Reserve"),
	}
	started := fixtureAt(3006, 15, 0, "Premier League", "Live", "Match")
	started.State = model.FixtureInPlayFirstHalf
	nextDay := fixtureAt(3008, 25, 0, "Premier League", "Tomorrow", "Team")
	all := append(append(append([]*model.Fixture{}, fixtures...), rejected...), started, nextDay)
	// 同一开赛时间的两场按 fixture_id 排列
	tie := fixtureAt(1999, 12, 0, "Premier League", "Tie", "Break")
	all = append(all, tie)

	h.source.EXPECT().FixturesForDate(gomock.Any(), selectDay).Return(all, nil)
	odds := map[int64]*model.FixtureOdds{}
	for _, f := range all {
		odds[f.FixtureID] = completeOdds(f.FixtureID)
	}
	// 赔率不全的不入选
	odds[2009].Under = 1000
	expectOdds(h, odds)

	picked, err := h.selector.Select(context.Background(), selectDay.Add(9*time.Hour))
	require.NoError(t, err)
	require.Len(t, picked, model.SlotCount)

	var ids []int64
	for i, p := range picked {
		assert.Equal(t, i, p.Slot)
		ids = append(ids, p.Fixture.FixtureID)
		if i > 0 {
			assert.False(t, p.Fixture.StartTime.Before(picked[i-1].Fixture.StartTime))
		}
	}
	assert.Equal(t, []int64{1999, 2000, 2001, 2002, 2003, 2004, 2005, 2006, 2007, 2008}, ids)

	stored, err := h.store.Repos().Fixtures.GetOdds(context.Background(), []int64{1999, 2009})
	require.NoError(t, err)
	assert.Contains(t, stored, int64(1999))
}

func TestSelect_PriorityByLeagueWeight(t *testing.T) {
	h := newHarness(t)
	h.setNow(selectDay)
	h.selector.cfg.LeagueWeights = map[int64]int64{39: 5}

	fixtures := validFixtures(11)
	// 最晚开赛但联赛权重更高
	late := fixtureAt(4000, 22, 0, "Serie A", "Late", "Derby")
	late.LeagueID = 39
	all := append(fixtures, late)

	h.source.EXPECT().FixturesForDate(gomock.Any(), selectDay).Return(all, nil)
	odds := map[int64]*model.FixtureOdds{}
	for _, f := range all {
		odds[f.FixtureID] = completeOdds(f.FixtureID)
	}
	expectOdds(h, odds)

	picked, err := h.selector.Select(context.Background(), selectDay)
	require.NoError(t, err)
	require.Len(t, picked, model.SlotCount)

	var ids []int64
	for _, p := range picked {
		ids = append(ids, p.Fixture.FixtureID)
	}
	assert.Contains(t, ids, int64(4000))
	// 最晚的两场普通比赛被挤出
	assert.NotContains(t, ids, int64(2009))
	assert.NotContains(t, ids, int64(2010))
	assert.Equal(t, int64(4000), ids[len(ids)-1])
}

func TestSelect_Insufficient(t *testing.T) {
	h := newHarness(t)
	h.setNow(selectDay)

	all := validFixtures(10)
	h.source.EXPECT().FixturesForDate(gomock.Any(), selectDay).Return(all, nil)
	odds := map[int64]*model.FixtureOdds{}
	for _, f := range all[:9] {
		odds[f.FixtureID] = completeOdds(f.FixtureID)
	}
	expectOdds(h, odds)

	_, err := h.selector.Select(context.Background(), selectDay)
	require.Error(t, err)
	assert.True(t, IsSelectionError(err))
	assert.ErrorIs(t, err, model.ErrInvariant)

	stored, err := h.store.Repos().Fixtures.GetFixtures(context.Background(), []int64{2000})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSelect_OddsErrorSkipsFixture(t *testing.T) {
	h := newHarness(t)
	h.setNow(selectDay)
	h.selector = NewMatchSelector(h.source, h.store, config.SelectorConfig{OddsConcurrency: 2}, quietLogger())
	h.selector.now = func() time.Time { return selectDay }

	all := validFixtures(11)
	h.source.EXPECT().FixturesForDate(gomock.Any(), selectDay).Return(all, nil)
	h.source.EXPECT().OddsForFixture(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id int64) (*model.FixtureOdds, error) {
			if id == 2003 {
				return nil, fmt.Errorf("%w: 503", model.ErrTransient)
			}
			return completeOdds(id), nil
		}).Times(11)

	picked, err := h.selector.Select(context.Background(), selectDay)
	require.NoError(t, err)
	for _, p := range picked {
		assert.NotEqual(t, int64(2003), p.Fixture.FixtureID)
	}
}

func TestIsExcluded(t *testing.T) {
	s := NewMatchSelector(nil, nil, config.SelectorConfig{ExcludeKeywords: []string{"Friendly"}}, quietLogger())
	tests := map[string]bool{
		"Premier League":        false,
		"U19 Championship":      true,
		"Under-21 League":       true,
		"FA Women's Cup":        true,
		"Club Friendly":         true,
		"Jong Ajax B Team":      true,
		"Brazil Serie A":        false,
		"Primavera Youth":       true,
		"Bundesliga Frauen":     true,
		"Manchester United":     false,
		"Sub-23 Campeonato U23": true,
	}
	for name, want := range tests {
		assert.Equal(t, want, s.isExcluded(name), name)
	}
	assert.True(t, hasReserveSuffix("Borussia Dortmund II"))
	assert.False(t, hasReserveSuffix("II"))
	assert.False(t, hasReserveSuffix("Valencia"))
}

func TestPriority(t *testing.T) {
	s := NewMatchSelector(nil, nil, config.SelectorConfig{LeagueWeights: map[int64]int64{8: 3}}, quietLogger())
	early := fixtureAt(1, 0, 0, "", "", "")
	late := fixtureAt(2, 23, 59, "", "", "")
	assert.Equal(t, int64(3*1000+1439), s.priority(early, selectDay))
	assert.Equal(t, int64(3*1000+1), s.priority(late, selectDay))

	other := fixtureAt(3, 12, 0, "", "", "")
	other.LeagueID = 99
	assert.Equal(t, int64(1000+720), s.priority(other, selectDay))
}

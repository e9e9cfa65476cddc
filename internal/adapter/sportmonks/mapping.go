package sportmonks

import (
	"fmt"
	"math"
	"strings"
	"time"

	"CycleOracle/internal/model"

	"github.com/shopspring/decimal"
)

// 市场 ID
const (
	marketFulltimeResult = 1
	marketGoalsOverUnder = 80
	overUnderLine        = "2.5"
)

// developer_name → 生命周期
var stateMap = map[string]model.FixtureState{
	"NS":               model.FixtureNotStarted,
	"INPLAY_1ST_HALF":  model.FixtureInPlayFirstHalf,
	"HT":               model.FixtureHalfTime,
	"INPLAY_2ND_HALF":  model.FixtureInPlaySecondHalf,
	"INPLAY_ET":        model.FixtureExtraTime,
	"EXTRA_TIME_BREAK": model.FixtureExtraTime,
	"BREAK":            model.FixtureExtraTime,
	"INPLAY_PENALTIES": model.FixturePenalties,
	"PEN_BREAK":        model.FixturePenalties,
	"FT":               model.FixtureFinished,
	"AET":              model.FixtureFinishedAfterExtra,
	"FT_PEN":           model.FixtureFinishedAfterPenalties,
	"CANCELLED":        model.FixtureCancelled,
	"ABANDONED":        model.FixtureCancelled,
	"DELETED":          model.FixtureCancelled,
	"AWARDED":          model.FixtureCancelled,
	"WO":               model.FixtureCancelled,
	"POSTPONED":        model.FixturePostponed,
	"TBA":              model.FixturePostponed,
	"DELAYED":          model.FixturePostponed,
	"SUSPENDED":        model.FixturePostponed,
	"INTERRUPTED":      model.FixturePostponed,
}

// mapState 未知状态返回瞬时错误，调用方保留原状态
func mapState(s *wireState) (model.FixtureState, error) {
	if s == nil {
		return "", model.Transient(fmt.Errorf("fixture state missing"))
	}
	name := strings.ToUpper(strings.TrimSpace(s.DeveloperName))
	if name == "" {
		name = strings.ToUpper(strings.TrimSpace(s.State))
	}
	if st, ok := stateMap[name]; ok {
		return st, nil
	}
	return "", model.Transient(fmt.Errorf("unknown fixture state %q", name))
}

// toFixture 缺少必填字段时返回瞬时错误
func toFixture(w wireFixture) (*model.Fixture, error) {
	if w.ID == 0 {
		return nil, model.Transient(fmt.Errorf("fixture id missing"))
	}
	start, err := startTime(w)
	if err != nil {
		return nil, err
	}
	var home, away string
	for _, p := range w.Participants {
		switch strings.ToLower(p.Meta.Location) {
		case "home":
			home = p.Name
		case "away":
			away = p.Name
		}
	}
	if home == "" || away == "" {
		return nil, model.Transient(fmt.Errorf("fixture %d: participants missing", w.ID))
	}
	f := &model.Fixture{
		FixtureID: w.ID,
		LeagueID:  w.LeagueID,
		HomeTeam:  home,
		AwayTeam:  away,
		StartTime: start,
		State:     model.FixtureNotStarted,
	}
	if w.League != nil {
		f.LeagueName = w.League.Name
		if f.LeagueID == 0 {
			f.LeagueID = w.League.ID
		}
	}
	if w.State != nil {
		st, err := mapState(w.State)
		if err != nil {
			return nil, fmt.Errorf("fixture %d: %w", w.ID, err)
		}
		f.State = st
	}
	return f, nil
}

func startTime(w wireFixture) (time.Time, error) {
	if w.StartingAtTimestamp > 0 {
		return time.Unix(w.StartingAtTimestamp, 0).UTC(), nil
	}
	if w.StartingAt != "" {
		t, err := time.ParseInLocation("2006-01-02 15:04:05", w.StartingAt, time.UTC)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, model.Transient(fmt.Errorf("fixture %d: starting_at missing", w.ID))
}

// scoreLine CURRENT 为全场，1ST_HALF 为半场；缺失保持 nil
func scoreLine(scores []wireScore) *model.ScoreLine {
	var line model.ScoreLine
	for _, s := range scores {
		goals := s.Score.Goals
		if goals == nil {
			continue
		}
		g := *goals
		side := strings.ToLower(s.Score.Participant)
		switch strings.ToUpper(s.Description) {
		case "CURRENT":
			if side == "home" {
				line.Home = &g
			} else if side == "away" {
				line.Away = &g
			}
		case "1ST_HALF":
			if side == "home" {
				line.HTHome = &g
			} else if side == "away" {
				line.HTAway = &g
			}
		}
	}
	if line.Home == nil || line.Away == nil {
		return nil
	}
	return &line
}

// scaleOdd 十进制赔率 ×1000 截断为整数
func scaleOdd(v string) (uint32, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	scaled := d.Shift(3).Truncate(0)
	if !scaled.IsPositive() || scaled.GreaterThan(decimal.NewFromInt(math.MaxUint32)) {
		return 0, false
	}
	return uint32(scaled.IntPart()), true
}

// pickOdds 按庄家优先级取第一个五项齐全的赔率
func pickOdds(fixtureID int64, odds []wireOdd, preference []int64) *model.FixtureOdds {
	byBookmaker := make(map[int64]*model.FixtureOdds)
	for _, o := range odds {
		if o.MarketID != marketFulltimeResult && o.MarketID != marketGoalsOverUnder {
			continue
		}
		v, ok := scaleOdd(o.Value)
		if !ok {
			continue
		}
		set := byBookmaker[o.BookmakerID]
		if set == nil {
			set = &model.FixtureOdds{FixtureID: fixtureID, BookmakerID: o.BookmakerID}
			byBookmaker[o.BookmakerID] = set
		}
		label := strings.ToLower(strings.TrimSpace(o.Label))
		switch o.MarketID {
		case marketFulltimeResult:
			switch label {
			case "home", "1":
				set.Home = v
			case "draw", "x":
				set.Draw = v
			case "away", "2":
				set.Away = v
			}
		case marketGoalsOverUnder:
			if o.Total == nil || strings.TrimSpace(*o.Total) != overUnderLine {
				continue
			}
			switch label {
			case "over":
				set.Over = v
			case "under":
				set.Under = v
			}
		}
	}
	for _, bm := range preference {
		if set := byBookmaker[bm]; set.Complete() {
			return set
		}
	}
	return nil
}

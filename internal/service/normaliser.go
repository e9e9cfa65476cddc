package service

import (
	"encoding/json"

	"CycleOracle/internal/model"

	"gorm.io/datatypes"
)

// ScoreOutcome 规范化结果；半场相关字段在缺少半场比分时为 nil
type ScoreOutcome struct {
	Outcome1X2 model.Outcome1X2
	OU25       model.OutcomeOU
	OU05       model.OutcomeOU
	OU15       model.OutcomeOU
	OU35       model.OutcomeOU
	BTTS       model.OutcomeBTTS
	HTResult   *model.Outcome1X2
	HTOU15     *model.OutcomeOU
}

// NormaliseScore 全场比分 → (1X2, 大小2.5) 及辅助盘口。0 是有效比分，缺失比分直接拒绝
func NormaliseScore(line model.ScoreLine) (*ScoreOutcome, error) {
	if line.Home == nil || line.Away == nil {
		return nil, model.ErrResultNotSet
	}
	home, away := *line.Home, *line.Away
	if home < 0 || away < 0 {
		return nil, model.Invariant("negative score %d-%d", home, away)
	}
	total := home + away
	out := &ScoreOutcome{
		Outcome1X2: moneyline(home, away),
		OU25:       overUnder(total, 25),
		OU05:       overUnder(total, 5),
		OU15:       overUnder(total, 15),
		OU35:       overUnder(total, 35),
		BTTS:       model.BTTSNo,
	}
	if home > 0 && away > 0 {
		out.BTTS = model.BTTSYes
	}
	if line.HTHome != nil && line.HTAway != nil && *line.HTHome >= 0 && *line.HTAway >= 0 {
		ht := moneyline(*line.HTHome, *line.HTAway)
		htOU := overUnder(*line.HTHome+*line.HTAway, 15)
		out.HTResult = &ht
		out.HTOU15 = &htOU
	}
	return out, nil
}

func moneyline(home, away int) model.Outcome1X2 {
	switch {
	case home > away:
		return model.OutcomeHome
	case home < away:
		return model.OutcomeAway
	default:
		return model.OutcomeDraw
	}
}

// overUnder 盘口以十分位表示（2.5 → 25），半球盘不存在走盘
func overUnder(goals, lineTenths int) model.OutcomeOU {
	if goals*10 > lineTenths {
		return model.OutcomeOver
	}
	return model.OutcomeUnder
}

// BuildResult 组装待写入的赛果行
func BuildResult(fixtureID int64, line model.ScoreLine, source string) (*model.FixtureResult, error) {
	o, err := NormaliseScore(line)
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(line)
	return &model.FixtureResult{
		FixtureID:   fixtureID,
		HomeScore:   line.Home,
		AwayScore:   line.Away,
		HTHomeScore: line.HTHome,
		HTAwayScore: line.HTAway,
		Outcome1X2:  &o.Outcome1X2,
		OutcomeOU25: &o.OU25,
		OutcomeOU05: &o.OU05,
		OutcomeOU15: &o.OU15,
		OutcomeOU35: &o.OU35,
		OutcomeBTTS: &o.BTTS,
		HTResult:    o.HTResult,
		HTOU15:      o.HTOU15,
		Source:      source,
		Raw:         datatypes.JSON(raw),
	}, nil
}

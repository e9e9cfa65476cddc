package interfaces

import (
	"context"
	"time"

	"CycleOracle/internal/model"
)

//go:generate mockgen -destination=../mocks/fixture_source_mock.go -package=mocks CycleOracle/internal/interfaces FixtureSource

// FixtureSource 赛事数据源：唯一允许访问外部体育 API 的地方
type FixtureSource interface {
	FixturesForDate(ctx context.Context, date time.Time) ([]*model.Fixture, error)                 // 某个 UTC 日的全部比赛
	OddsForFixture(ctx context.Context, fixtureID int64) (*model.FixtureOdds, error)               // 五项齐全的赔率；没有时返回 nil, nil
	FixtureState(ctx context.Context, fixtureID int64) (model.FixtureState, error)                 // 当前生命周期
	FinalScores(ctx context.Context, fixtureID int64) (*model.ScoreLine, model.FixtureState, error) // 比分（未出时为 nil）与同一次请求读到的状态
}

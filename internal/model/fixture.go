package model

import (
	"time"

	"gorm.io/datatypes"
)

// Fixture 比赛（外部数据源的 fixture_id 为主键，只更新不删除）
type Fixture struct {
	FixtureID      int64        `gorm:"column:fixture_id;primaryKey;autoIncrement:false;comment:数据源比赛ID"`
	LeagueID       int64        `gorm:"column:league_id;type:bigint;index;comment:联赛ID"`
	LeagueName     string       `gorm:"column:league_name;type:varchar(128);not null;default:'';comment:联赛名称"`
	HomeTeam       string       `gorm:"column:home_team;type:varchar(128);not null;comment:主队"`
	AwayTeam       string       `gorm:"column:away_team;type:varchar(128);not null;comment:客队"`
	StartTime      time.Time    `gorm:"column:start_time;type:timestamptz;not null;index;comment:开赛时间(UTC)"`
	State          FixtureState `gorm:"column:state;type:varchar(32);not null;default:NotStarted;index;comment:比赛状态"`
	StateCheckedAt *time.Time   `gorm:"column:state_checked_at;type:timestamptz;comment:最近一次拉取状态的时间"`
	CreatedAt      time.Time    `gorm:"column:created_at;type:timestamptz;default:now();comment:创建时间"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;type:timestamptz;default:now();comment:更新时间"`
}

// FixtureOdds 赔率（×1000 的整数），五项齐全且均 > 1000 才可入选
type FixtureOdds struct {
	FixtureID   int64     `gorm:"column:fixture_id;primaryKey;autoIncrement:false;comment:比赛ID"`
	BookmakerID int64     `gorm:"column:bookmaker_id;type:bigint;not null;comment:赔率来源庄家"`
	Home        uint32    `gorm:"column:odds_home;type:integer;not null"`
	Draw        uint32    `gorm:"column:odds_draw;type:integer;not null"`
	Away        uint32    `gorm:"column:odds_away;type:integer;not null"`
	Over        uint32    `gorm:"column:odds_over;type:integer;not null"`
	Under       uint32    `gorm:"column:odds_under;type:integer;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;default:now();comment:更新时间"`
}

// Complete 五项赔率均存在且 > 1.000
func (o *FixtureOdds) Complete() bool {
	if o == nil {
		return false
	}
	for _, v := range []uint32{o.Home, o.Draw, o.Away, o.Over, o.Under} {
		if v <= 1000 {
			return false
		}
	}
	return true
}

// FixtureResult 赛果；outcome_1x2 一旦写入即不可变
type FixtureResult struct {
	FixtureID   int64          `gorm:"column:fixture_id;primaryKey;autoIncrement:false;comment:比赛ID"`
	HomeScore   *int           `gorm:"column:home_score;type:integer;comment:主队全场进球"`
	AwayScore   *int           `gorm:"column:away_score;type:integer;comment:客队全场进球"`
	HTHomeScore *int           `gorm:"column:ht_home_score;type:integer;comment:主队半场进球"`
	HTAwayScore *int           `gorm:"column:ht_away_score;type:integer;comment:客队半场进球"`
	Outcome1X2  *Outcome1X2    `gorm:"column:outcome_1x2;type:varchar(8);comment:全场胜平负"`
	OutcomeOU25 *OutcomeOU     `gorm:"column:outcome_ou25;type:varchar(8);comment:大小2.5"`
	OutcomeOU05 *OutcomeOU     `gorm:"column:outcome_ou05;type:varchar(8)"`
	OutcomeOU15 *OutcomeOU     `gorm:"column:outcome_ou15;type:varchar(8)"`
	OutcomeOU35 *OutcomeOU     `gorm:"column:outcome_ou35;type:varchar(8)"`
	OutcomeBTTS *OutcomeBTTS   `gorm:"column:outcome_btts;type:varchar(8)"`
	HTResult    *Outcome1X2    `gorm:"column:ht_result;type:varchar(8);comment:半场胜平负"`
	HTOU15      *OutcomeOU     `gorm:"column:ht_ou15;type:varchar(8);comment:半场大小1.5"`
	Source      string         `gorm:"column:source;type:varchar(32);not null;default:sportmonks"`
	Raw         datatypes.JSON `gorm:"column:raw;type:jsonb;comment:原始比分"`
	CreatedAt   time.Time      `gorm:"column:created_at;type:timestamptz;default:now();comment:创建时间"`
}

// Scored 比分与两个规范化结果均已存在
func (r *FixtureResult) Scored() bool {
	if r == nil || r.HomeScore == nil || r.AwayScore == nil {
		return false
	}
	return r.Outcome1X2 != nil && r.Outcome1X2.Valid() && r.OutcomeOU25 != nil && r.OutcomeOU25.Valid()
}

// ScoreLine 数据源返回的比分（缺失为 nil，0 是有效比分）
type ScoreLine struct {
	Home   *int `json:"home"`
	Away   *int `json:"away"`
	HTHome *int `json:"ht_home,omitempty"`
	HTAway *int `json:"ht_away,omitempty"`
}

func (Fixture) TableName() string       { return "fixtures" }
func (FixtureOdds) TableName() string   { return "fixture_odds" }
func (FixtureResult) TableName() string { return "fixture_results" }

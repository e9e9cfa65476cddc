package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 青年 / 预备队 / 女子赛事的关键字（按词匹配，不区分大小写）
var defaultExcludeWords = []string{
	"women", "womens", "woman", "female", "feminino", "femenino", "femminile", "frauen", "ladies", "girls",
	"youth", "junior", "juniors", "academy", "reserve", "reserves",
}

var (
	ageGroupPattern = regexp.MustCompile(`\b(u|under)[\s-]?(1[6-9]|2[0-3])\b`)
	bTeamPattern    = regexp.MustCompile(`\bb[\s-]team\b`)
	wordSplit       = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// SelectedMatch 入选的比赛与赔率；Slot 即 display_order
type SelectedMatch struct {
	Slot     int
	Fixture  *model.Fixture
	Odds     *model.FixtureOdds
	Priority int64
}

// MatchSelector 为某个比赛日挑选 10 场比赛
type MatchSelector struct {
	source   interfaces.FixtureSource
	store    repository.Store
	cfg      config.SelectorConfig
	excluded map[string]struct{}
	leagues  map[int64]struct{}
	logger   *logrus.Logger
	now      func() time.Time
}

// NewMatchSelector 创建选赛服务
func NewMatchSelector(source interfaces.FixtureSource, store repository.Store, cfg config.SelectorConfig, logger *logrus.Logger) *MatchSelector {
	if cfg.OddsConcurrency <= 0 {
		cfg.OddsConcurrency = 4
	}
	if cfg.MaxOddsLookups <= 0 {
		cfg.MaxOddsLookups = 60
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = 1
	}
	words := make(map[string]struct{}, len(defaultExcludeWords)+len(cfg.ExcludeKeywords))
	for _, w := range defaultExcludeWords {
		words[w] = struct{}{}
	}
	for _, w := range cfg.ExcludeKeywords {
		words[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	leagues := make(map[int64]struct{}, len(cfg.ExcludedLeagues))
	for _, id := range cfg.ExcludedLeagues {
		leagues[id] = struct{}{}
	}
	return &MatchSelector{
		source:   source,
		store:    store,
		cfg:      cfg,
		excluded: words,
		leagues:  leagues,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Select 拉取当天比赛 → 过滤 → 并发取赔率 → 排序取前 10 → 按开赛时间排槽位，并落库比赛与赔率
func (s *MatchSelector) Select(ctx context.Context, gameDate time.Time) ([]SelectedMatch, error) {
	day := truncateDay(gameDate)
	fixtures, err := s.source.FixturesForDate(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("拉取比赛列表失败: %w", err)
	}

	now := s.now()
	candidates := make([]*model.Fixture, 0, len(fixtures))
	for _, f := range fixtures {
		if reason := s.rejectReason(f, day, now); reason != "" {
			s.logger.WithFields(logrus.Fields{"fixture_id": f.FixtureID, "reason": reason}).Debug("比赛被过滤")
			continue
		}
		candidates = append(candidates, f)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := s.priority(candidates[i], day), s.priority(candidates[j], day)
		if pi != pj {
			return pi > pj
		}
		return candidates[i].FixtureID < candidates[j].FixtureID
	})
	if len(candidates) > s.cfg.MaxOddsLookups {
		candidates = candidates[:s.cfg.MaxOddsLookups]
	}

	odds, err := s.fetchOdds(ctx, candidates)
	if err != nil {
		return nil, err
	}

	var picked []SelectedMatch
	for _, f := range candidates {
		o := odds[f.FixtureID]
		if !o.Complete() {
			continue
		}
		picked = append(picked, SelectedMatch{Fixture: f, Odds: o, Priority: s.priority(f, day)})
		if len(picked) == model.SlotCount {
			break
		}
	}

	log := s.logger.WithFields(logrus.Fields{
		"game_date":  day.Format("2006-01-02"),
		"fetched":    len(fixtures),
		"candidates": len(candidates),
		"with_odds":  len(odds),
		"picked":     len(picked),
	})
	// 不足 10 场时不落库
	if len(picked) < model.SlotCount {
		log.Error("可选比赛不足")
		return nil, fmt.Errorf("%w: %d of %d", model.ErrInsufficientFixtures, len(picked), model.SlotCount)
	}
	if err := s.persist(ctx, fixtures, odds); err != nil {
		return nil, err
	}
	log.Info("选赛完成")
	return OrderSlots(picked), nil
}

// OrderSlots 按开赛时间、fixture_id 排列槽位
func OrderSlots(picked []SelectedMatch) []SelectedMatch {
	out := append([]SelectedMatch(nil), picked...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Fixture, out[j].Fixture
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.FixtureID < b.FixtureID
	})
	for i := range out {
		out[i].Slot = i
	}
	return out
}

func (s *MatchSelector) fetchOdds(ctx context.Context, candidates []*model.Fixture) (map[int64]*model.FixtureOdds, error) {
	var (
		mu  sync.Mutex
		out = make(map[int64]*model.FixtureOdds, len(candidates))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.OddsConcurrency)
	for _, f := range candidates {
		g.Go(func() error {
			o, err := s.source.OddsForFixture(gctx, f.FixtureID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				// 单场失败不影响其余比赛
				s.logger.WithError(err).WithField("fixture_id", f.FixtureID).Warn("获取赔率失败，跳过")
				return nil
			}
			if o == nil {
				return nil
			}
			mu.Lock()
			out[f.FixtureID] = o
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("获取赔率被中断: %w", err)
	}
	return out, nil
}

func (s *MatchSelector) persist(ctx context.Context, fixtures []*model.Fixture, odds map[int64]*model.FixtureOdds) error {
	list := make([]*model.FixtureOdds, 0, len(odds))
	for _, o := range odds {
		list = append(list, o)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FixtureID < list[j].FixtureID })
	return s.store.InTx(ctx, func(r repository.Repos) error {
		if err := r.Fixtures.UpsertFixtures(ctx, fixtures); err != nil {
			return fmt.Errorf("保存比赛失败: %w", err)
		}
		if err := r.Fixtures.UpsertOdds(ctx, list); err != nil {
			return fmt.Errorf("保存赔率失败: %w", err)
		}
		return nil
	})
}

// rejectReason 返回非空表示不可入选
func (s *MatchSelector) rejectReason(f *model.Fixture, day, now time.Time) string {
	if !truncateDay(f.StartTime).Equal(day) {
		return "other_day"
	}
	if f.State != "" && f.State != model.FixtureNotStarted {
		return "state_" + string(f.State)
	}
	if !f.StartTime.After(now.Add(s.cfg.GracePeriod)) {
		return "within_grace"
	}
	if _, ok := s.leagues[f.LeagueID]; ok {
		return "league_excluded"
	}
	if s.isExcluded(f.LeagueName) || s.isExcluded(f.HomeTeam) || s.isExcluded(f.AwayTeam) {
		return "keyword"
	}
	if hasReserveSuffix(f.HomeTeam) || hasReserveSuffix(f.AwayTeam) {
		return "reserve_team"
	}
	return ""
}

// isExcluded 名称中是否出现排除关键字
func (s *MatchSelector) isExcluded(name string) bool {
	lower := strings.ToLower(name)
	if lower == "" {
		return false
	}
	if ageGroupPattern.MatchString(lower) || bTeamPattern.MatchString(lower) {
		return true
	}
	for _, w := range wordSplit.Split(lower, -1) {
		if _, ok := s.excluded[w]; ok {
			return true
		}
	}
	return false
}

// hasReserveSuffix 以 "II" 结尾的二队
func hasReserveSuffix(team string) bool {
	words := wordSplit.Split(strings.ToLower(strings.TrimSpace(team)), -1)
	for len(words) > 0 && words[len(words)-1] == "" {
		words = words[:len(words)-1]
	}
	return len(words) > 1 && words[len(words)-1] == "ii"
}

// priority 联赛权重 * 1000 + 开赛越早越高（距当天 24:00 的分钟数，限制在 [0, 1439]）
func (s *MatchSelector) priority(f *model.Fixture, day time.Time) int64 {
	weight, ok := s.cfg.LeagueWeights[f.LeagueID]
	if !ok {
		weight = s.cfg.DefaultWeight
	}
	earliness := int64(day.Add(24*time.Hour).Sub(f.StartTime) / time.Minute)
	if earliness < 0 {
		earliness = 0
	}
	if earliness > 1439 {
		earliness = 1439
	}
	return weight*1000 + earliness
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// IsSelectionError 选赛失败是否属于“比赛不足”
func IsSelectionError(err error) bool {
	return errors.Is(err, model.ErrInsufficientFixtures)
}

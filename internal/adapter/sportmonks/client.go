// Package sportmonks SportMonks v3 足球数据源
package sportmonks

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/model"
	"CycleOracle/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxPages = 40

// Client 实现 interfaces.FixtureSource
type Client struct {
	cfg    config.SportMonksConfig
	base   string
	getter *httpclient.Getter
	logger *logrus.Logger
}

// New 创建数据源客户端；限流器在所有调用间共享
func New(cfg config.SportMonksConfig, m *metrics.Metrics, logger *logrus.Logger) *Client {
	if cfg.Timeout <= 0 || cfg.Timeout > 15*time.Second {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 50
	}
	httpClient := httpclient.NewHTTPClient(httpclient.Options{Proxy: cfg.Proxy, Timeout: cfg.Timeout}, logger)
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	var observe httpclient.Observer
	if m != nil {
		observe = func(endpoint string, status int) {
			m.SportsRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		}
	}
	return &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		getter: httpclient.NewGetter(httpClient, limiter, cfg.MaxRetries, observe, logger),
		logger: logger,
	}
}

func (c *Client) url(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.cfg.APIToken)
	return c.base + path + "?" + params.Encode()
}

// FixturesForDate GET /fixtures/date/{date}（分页）
func (c *Client) FixturesForDate(ctx context.Context, date time.Time) ([]*model.Fixture, error) {
	day := date.UTC().Format("2006-01-02")
	var out []*model.Fixture
	for page := 1; page <= maxPages; page++ {
		params := url.Values{}
		params.Set("include", "participants;league;state")
		params.Set("per_page", strconv.Itoa(c.cfg.PerPage))
		params.Set("page", strconv.Itoa(page))

		var resp fixturesResponse
		if err := c.getter.GetJSON(ctx, "fixtures_by_date", c.url("/fixtures/date/"+day, params), &resp); err != nil {
			return nil, err
		}
		for _, w := range resp.Data {
			f, err := toFixture(w)
			if err != nil {
				c.logger.WithError(err).WithField("fixture_id", w.ID).Warn("比赛数据不完整，跳过")
				continue
			}
			out = append(out, f)
		}
		if resp.Pagination == nil || !resp.Pagination.HasMore {
			break
		}
	}
	c.logger.WithFields(logrus.Fields{"date": day, "count": len(out)}).Info("拉取比赛列表完成")
	return out, nil
}

// OddsForFixture GET /odds/pre-match/fixtures/{id}，市场 1 与 80
func (c *Client) OddsForFixture(ctx context.Context, fixtureID int64) (*model.FixtureOdds, error) {
	params := url.Values{}
	params.Set("filters", fmt.Sprintf("markets:%d,%d", marketFulltimeResult, marketGoalsOverUnder))

	var resp oddsResponse
	err := c.getter.GetJSON(ctx, "odds_pre_match", c.url(fmt.Sprintf("/odds/pre-match/fixtures/%d", fixtureID), params), &resp)
	if err != nil {
		return nil, err
	}
	return pickOdds(fixtureID, resp.Data, c.cfg.Bookmakers), nil
}

func (c *Client) fixture(ctx context.Context, fixtureID int64) (*wireFixture, error) {
	params := url.Values{}
	params.Set("include", "participants;state;scores")

	var resp fixtureResponse
	if err := c.getter.GetJSON(ctx, "fixture_by_id", c.url(fmt.Sprintf("/fixtures/%d", fixtureID), params), &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, model.Transient(fmt.Errorf("fixture %d: empty data", fixtureID))
	}
	return resp.Data, nil
}

// FixtureState 当前生命周期
func (c *Client) FixtureState(ctx context.Context, fixtureID int64) (model.FixtureState, error) {
	w, err := c.fixture(ctx, fixtureID)
	if err != nil {
		return "", err
	}
	st, err := mapState(w.State)
	if err != nil {
		return "", fmt.Errorf("fixture %d: %w", fixtureID, err)
	}
	return st, nil
}

// FinalScores 比分与状态；比分未出时 ScoreLine 为 nil
func (c *Client) FinalScores(ctx context.Context, fixtureID int64) (*model.ScoreLine, model.FixtureState, error) {
	w, err := c.fixture(ctx, fixtureID)
	if err != nil {
		return nil, "", err
	}
	st, err := mapState(w.State)
	if err != nil {
		return nil, "", fmt.Errorf("fixture %d: %w", fixtureID, err)
	}
	return scoreLine(w.Scores), st, nil
}

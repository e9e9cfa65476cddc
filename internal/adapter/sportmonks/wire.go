package sportmonks

// SportMonks v3 响应结构（只保留用到的字段，未知字段忽略）

type pagination struct {
	Count       int  `json:"count"`
	PerPage     int  `json:"per_page"`
	CurrentPage int  `json:"current_page"`
	HasMore     bool `json:"has_more"`
}

type fixturesResponse struct {
	Data       []wireFixture `json:"data"`
	Pagination *pagination   `json:"pagination"`
}

type fixtureResponse struct {
	Data *wireFixture `json:"data"`
}

type oddsResponse struct {
	Data []wireOdd `json:"data"`
}

type wireFixture struct {
	ID                  int64             `json:"id"`
	LeagueID            int64             `json:"league_id"`
	Name                string            `json:"name"`
	StartingAt          string            `json:"starting_at"`
	StartingAtTimestamp int64             `json:"starting_at_timestamp"`
	Participants        []wireParticipant `json:"participants"`
	League              *wireLeague       `json:"league"`
	State               *wireState        `json:"state"`
	Scores              []wireScore       `json:"scores"`
}

type wireParticipant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Meta struct {
		Location string `json:"location"`
	} `json:"meta"`
}

type wireLeague struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type wireState struct {
	ID            int64  `json:"id"`
	State         string `json:"state"`
	DeveloperName string `json:"developer_name"`
}

type wireScore struct {
	Description string `json:"description"`
	Score       struct {
		Goals       *int   `json:"goals"`
		Participant string `json:"participant"`
	} `json:"score"`
}

type wireOdd struct {
	ID          int64   `json:"id"`
	FixtureID   int64   `json:"fixture_id"`
	MarketID    int64   `json:"market_id"`
	BookmakerID int64   `json:"bookmaker_id"`
	Label       string  `json:"label"`
	Value       string  `json:"value"`
	Total       *string `json:"total"`
}

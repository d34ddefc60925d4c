package models

// RankingEntry is one row of the rating leaderboard served by the REST API.
type RankingEntry struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"user_id"`
	Username     string  `json:"username"`
	DisplayName  *string `json:"display_name"`
	Rating       int     `json:"rating"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Draws        int     `json:"draws"`
	WinStreak    int     `json:"win_streak"`
	TotalMatches int     `json:"total_matches"`
	WinRate      float64 `json:"win_rate"`
}

type Pagination struct {
	Cursor  *string `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

type Leaderboard struct {
	Data []RankingEntry `json:"data"`
	Meta struct {
		Pagination Pagination `json:"pagination"`
	} `json:"meta"`
}

// PlayerPerformance summarizes the recent completed matches of a player.
type PlayerPerformance struct {
	WinRate       int      `json:"win_rate"`
	CurrentStreak int      `json:"current_streak"`
	HeadToHead    H2H      `json:"head_to_head"`
	RecentForm    []string `json:"recent_form"` // "W" or "L", newest first
}

type H2H struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

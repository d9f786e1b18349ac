package storage

import "time"

// GameRecord is a row in the games table: one finished match
type GameRecord struct {
	GameID       string    `db:"game_id"`
	MatchID      string    `db:"match_id"`
	WhiteAgent   string    `db:"white_agent"`
	WhiteLocator string    `db:"white_locator"`
	BlackAgent   string    `db:"black_agent"`
	BlackLocator string    `db:"black_locator"`
	Result       string    `db:"result"`
	FinalFEN     string    `db:"final_fen"`
	MoveCount    int       `db:"move_count"`
	TimeLimitMs  int64     `db:"time_limit_ms"`
	FinishedAt   time.Time `db:"finished_at_utc"`
}

// MoveRecord is a row in the moves table
type MoveRecord struct {
	GameID       string `db:"game_id"`
	Ply          int    `db:"ply"`
	MoveNumber   int    `db:"move_number"`
	MoveSAN      string `db:"move_san"`
	MoveUCI      string `db:"move_uci"`
	FENAfterMove string `db:"fen_after_move"`
	PlayerColor  string `db:"player_color"`
	ElapsedMs    int64  `db:"elapsed_ms"`
}

// Schema defines the SQLite database structure
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	game_id TEXT PRIMARY KEY,
	match_id TEXT NOT NULL,
	white_agent TEXT NOT NULL,
	white_locator TEXT NOT NULL,
	black_agent TEXT NOT NULL,
	black_locator TEXT NOT NULL,
	result TEXT NOT NULL,
	final_fen TEXT NOT NULL,
	move_count INTEGER NOT NULL,
	time_limit_ms INTEGER NOT NULL,
	finished_at_utc DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS moves (
	game_id TEXT NOT NULL,
	ply INTEGER NOT NULL,
	move_number INTEGER NOT NULL,
	move_san TEXT NOT NULL,
	move_uci TEXT NOT NULL,
	fen_after_move TEXT NOT NULL,
	player_color TEXT NOT NULL CHECK(player_color IN ('w', 'b')),
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (game_id, ply),
	FOREIGN KEY (game_id) REFERENCES games(game_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_games_match_id ON games(match_id);
CREATE INDEX IF NOT EXISTS idx_games_white_agent ON games(white_agent);
CREATE INDEX IF NOT EXISTS idx_games_black_agent ON games(black_agent);
`

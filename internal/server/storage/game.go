package storage

import (
	"database/sql"
	"fmt"
)

// RecordGame asynchronously stores a finished game and its moves in one transaction
func (s *Store) RecordGame(game GameRecord, moves []MoveRecord) {
	s.enqueue("game", func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO games (
			game_id, match_id,
			white_agent, white_locator, black_agent, black_locator,
			result, final_fen, move_count, time_limit_ms, finished_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			game.GameID, game.MatchID,
			game.WhiteAgent, game.WhiteLocator, game.BlackAgent, game.BlackLocator,
			game.Result, game.FinalFEN, game.MoveCount, game.TimeLimitMs, game.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert game: %w", err)
		}

		stmt, err := tx.Prepare(`INSERT INTO moves (
			game_id, ply, move_number, move_san, move_uci, fen_after_move, player_color, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range moves {
			if _, err := stmt.Exec(game.GameID, m.Ply, m.MoveNumber, m.MoveSAN, m.MoveUCI,
				m.FENAfterMove, m.PlayerColor, m.ElapsedMs); err != nil {
				return fmt.Errorf("insert move %d: %w", m.Ply, err)
			}
		}
		return nil
	})
}

// QueryGames retrieves archived games, newest first. Empty or "*" filters match everything;
// agent matches either side.
func (s *Store) QueryGames(matchID, agent string) ([]GameRecord, error) {
	query := `SELECT
		game_id, match_id,
		white_agent, white_locator, black_agent, black_locator,
		result, final_fen, move_count, time_limit_ms, finished_at_utc
	FROM games WHERE 1=1`

	var args []any

	if matchID != "" && matchID != "*" {
		query += " AND match_id = ?"
		args = append(args, matchID)
	}

	if agent != "" && agent != "*" {
		query += " AND (white_agent = ? OR black_agent = ?)"
		args = append(args, agent, agent)
	}

	query += " ORDER BY finished_at_utc DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var games []GameRecord
	for rows.Next() {
		var g GameRecord
		err := rows.Scan(
			&g.GameID, &g.MatchID,
			&g.WhiteAgent, &g.WhiteLocator, &g.BlackAgent, &g.BlackLocator,
			&g.Result, &g.FinalFEN, &g.MoveCount, &g.TimeLimitMs, &g.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		games = append(games, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return games, nil
}

// QueryMoves returns a game's moves in play order
func (s *Store) QueryMoves(gameID string) ([]MoveRecord, error) {
	rows, err := s.db.Query(`SELECT
		game_id, ply, move_number, move_san, move_uci, fen_after_move, player_color, elapsed_ms
	FROM moves WHERE game_id = ? ORDER BY ply`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var moves []MoveRecord
	for rows.Next() {
		var m MoveRecord
		if err := rows.Scan(&m.GameID, &m.Ply, &m.MoveNumber, &m.MoveSAN, &m.MoveUCI,
			&m.FENAfterMove, &m.PlayerColor, &m.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		moves = append(moves, m)
	}

	return moves, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/cashoutai/tradedesk/internal/model"
)

// SQLiteStore implements Store on an embedded SQLite database. Suitable for
// single-node deployments; decimals are stored as TEXT and times as unix
// nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection serialises writers; SQLite locks the file anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema("sqlite.sql")); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const liteUserColumns = `id, username, real_name, email, password_hash, is_admin, is_moderator,
	status, avatar_url, is_online, last_seen, created_at, approved_at, approved_by,
	total_profit, win_percentage, trades_count, average_gain, completed_trades, winning_trades`

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, real_name, email, password_hash, is_admin, is_moderator,
		                    status, avatar_url, is_online, last_seen, created_at, approved_at, approved_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.RealName, u.Email, u.PasswordHash, u.IsAdmin, u.IsModerator,
		string(u.Status), u.AvatarURL, u.IsOnline, unixNanos(u.LastSeen), unixNanos(u.CreatedAt),
		optUnixNanos(u.ApprovedAt), u.ApprovedBy,
	)
	return liteErr(err, "create user "+u.Username)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+liteUserColumns+` FROM users WHERE id = ?`, id)
	u, err := scanLiteUser(row)
	if err != nil {
		return nil, liteErr(err, "get user "+id)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+liteUserColumns+` FROM users WHERE username = ?`, username)
	u, err := scanLiteUser(row)
	if err != nil {
		return nil, liteErr(err, "get username "+username)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+liteUserColumns+` FROM users ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *model.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET username = ?, real_name = ?, email = ?, password_hash = ?,
		     is_admin = ?, is_moderator = ?, status = ?, avatar_url = ?,
		     approved_at = ?, approved_by = ?
		 WHERE id = ?`,
		u.Username, u.RealName, u.Email, u.PasswordHash,
		u.IsAdmin, u.IsModerator, string(u.Status), u.AvatarURL,
		optUnixNanos(u.ApprovedAt), u.ApprovedBy,
		u.ID,
	)
	if err != nil {
		return liteErr(err, "update user "+u.ID)
	}
	return requireRow(res, "user "+u.ID)
}

func (s *SQLiteStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, unixNanos(lastSeen), userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "user "+userID)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user "+id)
}

func (s *SQLiteStore) UpdatePerformance(ctx context.Context, userID string, p model.Performance) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET total_profit = ?, win_percentage = ?, trades_count = ?,
		     average_gain = ?, completed_trades = ?, winning_trades = ?
		 WHERE id = ?`,
		p.TotalProfit.String(), p.WinPercentage.String(), p.TradesCount,
		p.AverageGain.String(), p.CompletedTrades, p.WinningTrades, userID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "user "+userID)
}

func (s *SQLiteStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, symbol, action, quantity, price, ts,
		                     notes, position_id, stop_loss, take_profit, is_closed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Symbol, string(t.Action), t.Quantity, t.Price.String(), unixNanos(t.Timestamp),
		t.Notes, t.PositionID, nullDecimalArg(t.StopLoss), nullDecimalArg(t.TakeProfit), t.IsClosed,
	)
	return liteErr(err, "insert trade "+t.ID)
}

func (s *SQLiteStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symbol, action, quantity, price, ts,
		        notes, position_id, stop_loss, take_profit, is_closed
		 FROM trades WHERE user_id = ? ORDER BY ts, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var action, price string
		var ts int64
		var stopLoss, takeProfit *string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &action, &t.Quantity, &price, &ts,
			&t.Notes, &t.PositionID, &stopLoss, &takeProfit, &t.IsClosed); err != nil {
			return nil, err
		}
		t.Action = model.Action(action)
		t.Price = parseDecimal(price)
		t.Timestamp = fromUnixNanos(ts)
		t.StopLoss = parseNullDecimal(stopLoss)
		t.TakeProfit = parseNullDecimal(takeProfit)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

const litePositionColumns = `id, user_id, symbol, quantity, avg_price, entry_price,
	current_price, unrealized_pnl, unrealized_pnl_percentage, realized_pnl,
	stop_loss, take_profit, is_open, opened_at, closed_at, notes, auto_close_reason`

func (s *SQLiteStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (`+litePositionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Symbol, p.Quantity, p.AvgPrice.String(), p.EntryPrice.String(),
		nullDecimalArg(p.CurrentPrice), nullDecimalArg(p.UnrealizedPnL), nullDecimalArg(p.UnrealizedPnLPercentage),
		p.RealizedPnL.String(), nullDecimalArg(p.StopLoss), nullDecimalArg(p.TakeProfit),
		p.IsOpen, unixNanos(p.OpenedAt), optUnixNanos(p.ClosedAt), p.Notes, string(p.AutoCloseReason),
	)
	return liteErr(err, "create position "+p.ID)
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+litePositionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanLitePosition(row)
	if err != nil {
		return nil, liteErr(err, "get position "+id)
	}
	return p, nil
}

func (s *SQLiteStore) GetOpenPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+litePositionColumns+` FROM positions WHERE user_id = ? AND symbol = ? AND is_open = 1`,
		userID, symbol)
	p, err := scanLitePosition(row)
	if err != nil {
		return nil, liteErr(err, "open position "+userID+"/"+symbol)
	}
	return p, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context, userID string, openOnly bool) ([]model.Position, error) {
	query := `SELECT ` + litePositionColumns + ` FROM positions WHERE user_id = ?`
	if openOnly {
		query += ` AND is_open = 1`
	}
	query += ` ORDER BY opened_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanLitePosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions
		 SET quantity = ?, avg_price = ?, entry_price = ?, current_price = ?,
		     unrealized_pnl = ?, unrealized_pnl_percentage = ?, realized_pnl = ?,
		     stop_loss = ?, take_profit = ?, is_open = ?, closed_at = ?,
		     notes = ?, auto_close_reason = ?
		 WHERE id = ?`,
		p.Quantity, p.AvgPrice.String(), p.EntryPrice.String(), nullDecimalArg(p.CurrentPrice),
		nullDecimalArg(p.UnrealizedPnL), nullDecimalArg(p.UnrealizedPnLPercentage), p.RealizedPnL.String(),
		nullDecimalArg(p.StopLoss), nullDecimalArg(p.TakeProfit), p.IsOpen, optUnixNanos(p.ClosedAt),
		p.Notes, string(p.AutoCloseReason), p.ID,
	)
	if err != nil {
		return liteErr(err, "update position "+p.ID)
	}
	return requireRow(res, "position "+p.ID)
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, m *model.Message) error {
	tickers := m.HighlightedTickers
	if tickers == nil {
		tickers = []string{}
	}
	tickersJSON, err := json.Marshal(tickers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, username, real_name, content, is_admin, is_moderator,
		                       avatar_url, ts, highlighted_tickers, image_url, message_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Username, m.RealName, m.Content, m.IsAdmin, m.IsModerator,
		m.AvatarURL, unixNanos(m.Timestamp), string(tickersJSON), m.ImageURL, m.MessageType,
	)
	return liteErr(err, "insert message "+m.ID)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, username, real_name, content, is_admin, is_moderator,
		        avatar_url, ts, highlighted_tickers, image_url, message_type
		 FROM (SELECT * FROM messages ORDER BY seq DESC LIMIT ?)
		 ORDER BY seq`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var ts int64
		var tickers string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Username, &m.RealName, &m.Content,
			&m.IsAdmin, &m.IsModerator, &m.AvatarURL, &ts, &tickers,
			&m.ImageURL, &m.MessageType); err != nil {
			return nil, err
		}
		m.Timestamp = fromUnixNanos(ts)
		if err := json.Unmarshal([]byte(tickers), &m.HighlightedTickers); err != nil {
			return nil, fmt.Errorf("message %s tickers: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanLiteUser(row rowScanner) (*model.User, error) {
	var u model.User
	var status, totalProfit, winPct, avgGain string
	var lastSeen, createdAt int64
	var approvedAt *int64
	if err := row.Scan(&u.ID, &u.Username, &u.RealName, &u.Email, &u.PasswordHash,
		&u.IsAdmin, &u.IsModerator, &status, &u.AvatarURL, &u.IsOnline,
		&lastSeen, &createdAt, &approvedAt, &u.ApprovedBy,
		&totalProfit, &winPct, &u.TradesCount, &avgGain,
		&u.CompletedTrades, &u.WinningTrades); err != nil {
		return nil, err
	}
	u.Status = model.UserStatus(status)
	u.LastSeen = fromUnixNanos(lastSeen)
	u.CreatedAt = fromUnixNanos(createdAt)
	u.ApprovedAt = fromOptUnixNanos(approvedAt)
	u.TotalProfit = parseDecimal(totalProfit)
	u.WinPercentage = parseDecimal(winPct)
	u.AverageGain = parseDecimal(avgGain)
	return &u, nil
}

func scanLitePosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var avg, entry, realized, reason string
	var current, unrealized, unrealizedPct, stopLoss, takeProfit *string
	var openedAt int64
	var closedAt *int64
	if err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &p.Quantity, &avg, &entry,
		&current, &unrealized, &unrealizedPct, &realized,
		&stopLoss, &takeProfit, &p.IsOpen, &openedAt, &closedAt, &p.Notes, &reason); err != nil {
		return nil, err
	}
	p.AvgPrice = parseDecimal(avg)
	p.EntryPrice = parseDecimal(entry)
	p.RealizedPnL = parseDecimal(realized)
	p.CurrentPrice = parseNullDecimal(current)
	p.UnrealizedPnL = parseNullDecimal(unrealized)
	p.UnrealizedPnLPercentage = parseNullDecimal(unrealizedPct)
	p.StopLoss = parseNullDecimal(stopLoss)
	p.TakeProfit = parseNullDecimal(takeProfit)
	p.OpenedAt = fromUnixNanos(openedAt)
	p.ClosedAt = fromOptUnixNanos(closedAt)
	p.AutoCloseReason = model.CloseReason(reason)
	return &p, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return nil
}

// liteErr maps driver errors onto the model error taxonomy.
func liteErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", what, model.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

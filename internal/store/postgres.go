package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cashoutai/tradedesk/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema("postgres.sql")); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

const pgUserColumns = `id, username, real_name, email, password_hash, is_admin, is_moderator,
	status, avatar_url, is_online, last_seen, created_at, approved_at, approved_by,
	total_profit::TEXT, win_percentage::TEXT, trades_count, average_gain::TEXT,
	completed_trades, winning_trades`

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, real_name, email, password_hash, is_admin, is_moderator,
		                    status, avatar_url, is_online, last_seen, created_at, approved_at, approved_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		u.ID, u.Username, u.RealName, u.Email, u.PasswordHash, u.IsAdmin, u.IsModerator,
		string(u.Status), u.AvatarURL, u.IsOnline, u.LastSeen, u.CreatedAt, u.ApprovedAt, u.ApprovedBy,
	)
	return pgErr(err, "create user "+u.Username)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, pgErr(err, "get user "+id)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, pgErr(err, "get username "+username)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgUserColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *model.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET username = $2, real_name = $3, email = $4, password_hash = $5,
		     is_admin = $6, is_moderator = $7, status = $8, avatar_url = $9,
		     approved_at = $10, approved_by = $11
		 WHERE id = $1`,
		u.ID, u.Username, u.RealName, u.Email, u.PasswordHash,
		u.IsAdmin, u.IsModerator, string(u.Status), u.AvatarURL,
		u.ApprovedAt, u.ApprovedBy,
	)
	if err != nil {
		return pgErr(err, "update user "+u.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", u.ID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`,
		userID, online, lastSeen,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdatePerformance(ctx context.Context, userID string, p model.Performance) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET total_profit = $2::NUMERIC, win_percentage = $3::NUMERIC, trades_count = $4,
		     average_gain = $5::NUMERIC, completed_trades = $6, winning_trades = $7
		 WHERE id = $1`,
		userID, p.TotalProfit.String(), p.WinPercentage.String(), p.TradesCount,
		p.AverageGain.String(), p.CompletedTrades, p.WinningTrades,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, action, quantity, price, timestamp,
		                     notes, position_id, stop_loss, take_profit, is_closed)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10::NUMERIC, $11::NUMERIC, $12)`,
		t.ID, t.UserID, t.Symbol, string(t.Action), t.Quantity, t.Price.String(), t.Timestamp,
		t.Notes, t.PositionID, nullDecimalArg(t.StopLoss), nullDecimalArg(t.TakeProfit), t.IsClosed,
	)
	return pgErr(err, "insert trade "+t.ID)
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, action, quantity, price::TEXT, timestamp,
		        notes, position_id, stop_loss::TEXT, take_profit::TEXT, is_closed
		 FROM trades WHERE user_id = $1 ORDER BY timestamp, seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var action, price string
		var stopLoss, takeProfit *string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &action, &t.Quantity, &price, &t.Timestamp,
			&t.Notes, &t.PositionID, &stopLoss, &takeProfit, &t.IsClosed); err != nil {
			return nil, err
		}
		t.Action = model.Action(action)
		t.Price = parseDecimal(price)
		t.StopLoss = parseNullDecimal(stopLoss)
		t.TakeProfit = parseNullDecimal(takeProfit)
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

const pgPositionColumns = `id, user_id, symbol, quantity, avg_price::TEXT, entry_price::TEXT,
	current_price::TEXT, unrealized_pnl::TEXT, unrealized_pnl_percentage::TEXT, realized_pnl::TEXT,
	stop_loss::TEXT, take_profit::TEXT, is_open, opened_at, closed_at, notes, auto_close_reason`

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, user_id, symbol, quantity, avg_price, entry_price,
		                        current_price, unrealized_pnl, unrealized_pnl_percentage, realized_pnl,
		                        stop_loss, take_profit, is_open, opened_at, closed_at, notes, auto_close_reason)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13, $14, $15, $16, $17)`,
		p.ID, p.UserID, p.Symbol, p.Quantity, p.AvgPrice.String(), p.EntryPrice.String(),
		nullDecimalArg(p.CurrentPrice), nullDecimalArg(p.UnrealizedPnL), nullDecimalArg(p.UnrealizedPnLPercentage),
		p.RealizedPnL.String(), nullDecimalArg(p.StopLoss), nullDecimalArg(p.TakeProfit),
		p.IsOpen, p.OpenedAt, p.ClosedAt, p.Notes, string(p.AutoCloseReason),
	)
	return pgErr(err, "create position "+p.ID)
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPositionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, pgErr(err, "get position "+id)
	}
	return p, nil
}

func (s *PostgresStore) GetOpenPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgPositionColumns+` FROM positions WHERE user_id = $1 AND symbol = $2 AND is_open`,
		userID, symbol)
	p, err := scanPosition(row)
	if err != nil {
		return nil, pgErr(err, "open position "+userID+"/"+symbol)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string, openOnly bool) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgPositionColumns+` FROM positions
		 WHERE user_id = $1 AND (is_open OR NOT $2)
		 ORDER BY opened_at DESC, id`, userID, openOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET quantity = $2, avg_price = $3::NUMERIC, entry_price = $4::NUMERIC,
		     current_price = $5::NUMERIC, unrealized_pnl = $6::NUMERIC,
		     unrealized_pnl_percentage = $7::NUMERIC, realized_pnl = $8::NUMERIC,
		     stop_loss = $9::NUMERIC, take_profit = $10::NUMERIC, is_open = $11,
		     closed_at = $12, notes = $13, auto_close_reason = $14
		 WHERE id = $1`,
		p.ID, p.Quantity, p.AvgPrice.String(), p.EntryPrice.String(),
		nullDecimalArg(p.CurrentPrice), nullDecimalArg(p.UnrealizedPnL),
		nullDecimalArg(p.UnrealizedPnLPercentage), p.RealizedPnL.String(),
		nullDecimalArg(p.StopLoss), nullDecimalArg(p.TakeProfit), p.IsOpen,
		p.ClosedAt, p.Notes, string(p.AutoCloseReason),
	)
	if err != nil {
		return pgErr(err, "update position "+p.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", p.ID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *model.Message) error {
	tickers := m.HighlightedTickers
	if tickers == nil {
		tickers = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, user_id, username, real_name, content, is_admin, is_moderator,
		                       avatar_url, timestamp, highlighted_tickers, image_url, message_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.UserID, m.Username, m.RealName, m.Content, m.IsAdmin, m.IsModerator,
		m.AvatarURL, m.Timestamp, tickers, m.ImageURL, m.MessageType,
	)
	return pgErr(err, "insert message "+m.ID)
}

func (s *PostgresStore) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, username, real_name, content, is_admin, is_moderator,
		        avatar_url, timestamp, highlighted_tickers, image_url, message_type
		 FROM (SELECT * FROM messages ORDER BY seq DESC LIMIT $1) recent
		 ORDER BY seq`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Username, &m.RealName, &m.Content,
			&m.IsAdmin, &m.IsModerator, &m.AvatarURL, &m.Timestamp,
			&m.HighlightedTickers, &m.ImageURL, &m.MessageType); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var status, totalProfit, winPct, avgGain string
	if err := row.Scan(&u.ID, &u.Username, &u.RealName, &u.Email, &u.PasswordHash,
		&u.IsAdmin, &u.IsModerator, &status, &u.AvatarURL, &u.IsOnline,
		&u.LastSeen, &u.CreatedAt, &u.ApprovedAt, &u.ApprovedBy,
		&totalProfit, &winPct, &u.TradesCount, &avgGain,
		&u.CompletedTrades, &u.WinningTrades); err != nil {
		return nil, err
	}
	u.Status = model.UserStatus(status)
	u.TotalProfit = parseDecimal(totalProfit)
	u.WinPercentage = parseDecimal(winPct)
	u.AverageGain = parseDecimal(avgGain)
	return &u, nil
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var avg, entry, realized, reason string
	var current, unrealized, unrealizedPct, stopLoss, takeProfit *string
	if err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &p.Quantity, &avg, &entry,
		&current, &unrealized, &unrealizedPct, &realized,
		&stopLoss, &takeProfit, &p.IsOpen, &p.OpenedAt, &p.ClosedAt, &p.Notes, &reason); err != nil {
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
	p.AutoCloseReason = model.CloseReason(reason)
	p.OpenedAt = p.OpenedAt.UTC()
	return &p, nil
}

// pgErr maps driver errors onto the model error taxonomy.
func pgErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return fmt.Errorf("%s: %w", what, model.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

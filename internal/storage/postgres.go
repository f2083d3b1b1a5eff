package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/brifify/brifify/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) EnsureUser(ctx context.Context, user *models.UserAccount) (*models.UserAccount, bool, error) {
	insert := `
		INSERT INTO users (user_id, is_anonymous, email, tokens, created_at, last_updated)
		VALUES ($1, $2, NULLIF($3, ''), $4, now(), now())
		ON CONFLICT (user_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, insert, user.UserID, user.IsAnonymous, user.Email, user.Tokens)
	if err != nil {
		return nil, false, fmt.Errorf("error ensuring user: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		created = true
	}

	current, err := s.GetUser(ctx, user.UserID)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, fmt.Errorf("user %s missing after ensure", user.UserID)
	}
	return current, created, nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, userID string) (*models.UserAccount, error) {
	query := `
		SELECT user_id, is_anonymous, COALESCE(email, ''), tokens, created_at, last_updated
		FROM users WHERE user_id = $1`

	var user models.UserAccount
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.IsAnonymous, &user.Email, &user.Tokens,
		&user.CreatedAt, &user.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	return &user, nil
}

func (s *PostgresStorage) TouchUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_updated = now() WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("error touching user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitToken relies on the guarded UPDATE to serialize concurrent debits
// for the same user; the balance can never pass below zero.
func (s *PostgresStorage) DebitToken(ctx context.Context, userID string) (int, error) {
	query := `
		UPDATE users
		SET tokens = tokens - 1, last_updated = now()
		WHERE user_id = $1 AND tokens > 0
		RETURNING tokens`

	var balance int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		existing, getErr := s.GetUser(ctx, userID)
		if getErr != nil {
			return 0, getErr
		}
		if existing == nil {
			return 0, ErrNotFound
		}
		return 0, ErrBalanceExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("error debiting token: %w", err)
	}
	return balance, nil
}

func (s *PostgresStorage) CreditTokens(ctx context.Context, userID string, amount int, ref string) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("error starting credit transaction: %w", err)
	}
	defer tx.Rollback()

	if ref != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO token_grants (ref, user_id, amount) VALUES ($1, $2, $3)
			 ON CONFLICT (ref) DO NOTHING`, ref, userID, amount)
		if err != nil {
			return 0, false, fmt.Errorf("error recording token grant: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// Grant already applied; report the current balance untouched.
			var balance int
			err := tx.QueryRowContext(ctx,
				`SELECT tokens FROM users WHERE user_id = $1`, userID).Scan(&balance)
			if err == sql.ErrNoRows {
				return 0, false, ErrNotFound
			}
			if err != nil {
				return 0, false, fmt.Errorf("error querying balance: %w", err)
			}
			return balance, false, tx.Commit()
		}
	}

	var balance int
	err = tx.QueryRowContext(ctx,
		`UPDATE users SET tokens = tokens + $2, last_updated = now()
		 WHERE user_id = $1 RETURNING tokens`, userID, amount).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("error crediting tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("error committing credit: %w", err)
	}
	return balance, true, nil
}

func (s *PostgresStorage) SaveBrief(ctx context.Context, userID string, brief *models.TechnicalBrief) error {
	payload, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("error encoding brief: %w", err)
	}

	query := `
		INSERT INTO briefs (user_id, brief_id, title, brief_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, brief_id) DO UPDATE SET
			title = excluded.title,
			brief_json = excluded.brief_json,
			updated_at = now()`

	createdAt := brief.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, query,
		userID, brief.BriefID, brief.ProjectTitle, payload, createdAt); err != nil {
		return fmt.Errorf("error saving brief: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetBrief(ctx context.Context, userID, briefID string) (*models.TechnicalBrief, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT brief_json FROM briefs WHERE user_id = $1 AND brief_id = $2`,
		userID, briefID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying brief: %w", err)
	}

	var brief models.TechnicalBrief
	if err := json.Unmarshal(payload, &brief); err != nil {
		return nil, fmt.Errorf("error decoding brief: %w", err)
	}
	return &brief, nil
}

func (s *PostgresStorage) ListBriefs(ctx context.Context, userID string) ([]*models.TechnicalBrief, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT brief_json FROM briefs WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("error querying briefs: %w", err)
	}
	defer rows.Close()

	var briefs []*models.TechnicalBrief
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("error scanning brief: %w", err)
		}
		var brief models.TechnicalBrief
		if err := json.Unmarshal(payload, &brief); err != nil {
			return nil, fmt.Errorf("error decoding brief: %w", err)
		}
		briefs = append(briefs, &brief)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating briefs: %w", err)
	}
	return briefs, nil
}

func (s *PostgresStorage) DeleteBrief(ctx context.Context, userID, briefID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM briefs WHERE user_id = $1 AND brief_id = $2`, userID, briefID)
	if err != nil {
		return fmt.Errorf("error deleting brief: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

package billing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable ledger, backed by a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id                   TEXT PRIMARY KEY,
	email                TEXT NOT NULL DEFAULT '',
	next_quota_reset     TIMESTAMP NOT NULL,
	auto_topup_enabled   INTEGER NOT NULL DEFAULT 0,
	auto_topup_threshold INTEGER NOT NULL DEFAULT 0,
	auto_topup_amount    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS organizations (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	slug                 TEXT NOT NULL,
	auto_topup_enabled   INTEGER NOT NULL DEFAULT 0,
	auto_topup_threshold INTEGER NOT NULL DEFAULT 0,
	auto_topup_amount    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS org_members (
	org_id  TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (org_id, user_id)
);

CREATE TABLE IF NOT EXISTS org_repos (
	org_id   TEXT NOT NULL,
	owner    TEXT NOT NULL,
	repo     TEXT NOT NULL,
	approved INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (org_id, owner, repo)
);

CREATE TABLE IF NOT EXISTS grants (
	id             TEXT PRIMARY KEY,
	principal_type TEXT NOT NULL,
	principal_id   TEXT NOT NULL,
	kind           TEXT NOT NULL,
	amount         INTEGER NOT NULL,
	remaining      INTEGER NOT NULL,
	granted_at     TIMESTAMP NOT NULL,
	expires_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_grants_principal ON grants (principal_type, principal_id);

CREATE TABLE IF NOT EXISTS usage_entries (
	id             TEXT PRIMARY KEY,
	principal_type TEXT NOT NULL,
	principal_id   TEXT NOT NULL,
	kind           TEXT NOT NULL,
	amount         INTEGER NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_principal ON usage_entries (principal_type, principal_id, created_at);

CREATE TABLE IF NOT EXISTS debts (
	principal_type TEXT NOT NULL,
	principal_id   TEXT NOT NULL,
	amount         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (principal_type, principal_id)
);
`

// NewSQLiteStore opens (and migrates) the ledger at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing handle; the caller owns migration.
// Used by tests that substitute a mock database.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, next_quota_reset, auto_topup_enabled, auto_topup_threshold, auto_topup_amount
		 FROM users WHERE id = ?`, userID)

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.NextQuotaReset,
		&u.AutoTopupEnabled, &u.AutoTopupThreshold, &u.AutoTopupAmount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) PutUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, next_quota_reset, auto_topup_enabled, auto_topup_threshold, auto_topup_amount)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = excluded.email,
		   next_quota_reset = excluded.next_quota_reset,
		   auto_topup_enabled = excluded.auto_topup_enabled,
		   auto_topup_threshold = excluded.auto_topup_threshold,
		   auto_topup_amount = excluded.auto_topup_amount`,
		user.ID, user.Email, user.NextQuotaReset,
		user.AutoTopupEnabled, user.AutoTopupThreshold, user.AutoTopupAmount)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, auto_topup_enabled, auto_topup_threshold, auto_topup_amount
		 FROM organizations WHERE id = ?`, orgID)

	var o Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Slug,
		&o.AutoTopupEnabled, &o.AutoTopupThreshold, &o.AutoTopupAmount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}

	if err := s.loadOrgDetails(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) loadOrgDetails(ctx context.Context, o *Organization) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM org_members WHERE org_id = ? ORDER BY user_id`, o.ID)
	if err != nil {
		return fmt.Errorf("list org members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		o.Members = append(o.Members, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	repoRows, err := s.db.QueryContext(ctx,
		`SELECT owner, repo, approved FROM org_repos WHERE org_id = ? ORDER BY owner, repo`, o.ID)
	if err != nil {
		return fmt.Errorf("list org repos: %w", err)
	}
	defer repoRows.Close()
	for repoRows.Next() {
		var r RepoCoverage
		if err := repoRows.Scan(&r.Owner, &r.Repo, &r.Approved); err != nil {
			return err
		}
		o.Repos = append(o.Repos, r)
	}
	return repoRows.Err()
}

func (s *SQLiteStore) PutOrganization(ctx context.Context, org *Organization) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO organizations (id, name, slug, auto_topup_enabled, auto_topup_threshold, auto_topup_amount)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   slug = excluded.slug,
		   auto_topup_enabled = excluded.auto_topup_enabled,
		   auto_topup_threshold = excluded.auto_topup_threshold,
		   auto_topup_amount = excluded.auto_topup_amount`,
		org.ID, org.Name, org.Slug,
		org.AutoTopupEnabled, org.AutoTopupThreshold, org.AutoTopupAmount); err != nil {
		return fmt.Errorf("put organization: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM org_members WHERE org_id = ?`, org.ID); err != nil {
		return err
	}
	for _, m := range org.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO org_members (org_id, user_id) VALUES (?,?)`, org.ID, m); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM org_repos WHERE org_id = ?`, org.ID); err != nil {
		return err
	}
	for _, r := range org.Repos {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO org_repos (org_id, owner, repo, approved) VALUES (?,?,?,?)`,
			org.ID, r.Owner, r.Repo, r.Approved); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) OrganizationsForUser(ctx context.Context, userID string) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id FROM org_members WHERE user_id = ? ORDER BY org_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("orgs for user: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Organization, 0, len(ids))
	for _, id := range ids {
		org, err := s.GetOrganization(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}

func (s *SQLiteStore) InsertGrant(ctx context.Context, grant *Grant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grants (id, principal_type, principal_id, kind, amount, remaining, granted_at, expires_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		grant.ID, grant.PrincipalType, grant.PrincipalID, grant.Kind,
		grant.Amount, grant.Remaining, grant.GrantedAt, grant.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ActiveGrants(ctx context.Context, pt PrincipalType, principalID string, now time.Time) ([]*Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, principal_type, principal_id, kind, amount, remaining, granted_at, expires_at
		 FROM grants
		 WHERE principal_type = ? AND principal_id = ? AND remaining > 0
		   AND (expires_at IS NULL OR expires_at > ?)`,
		pt, principalID, now)
	if err != nil {
		return nil, fmt.Errorf("active grants: %w", err)
	}
	defer rows.Close()

	var out []*Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ID, &g.PrincipalType, &g.PrincipalID, &g.Kind,
			&g.Amount, &g.Remaining, &g.GrantedAt, &g.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortGrantsByPriority(out)
	return out, nil
}

func (s *SQLiteStore) UpdateGrantRemaining(ctx context.Context, grantID string, remaining int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE grants SET remaining = ? WHERE id = ?`, remaining, grantID)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, entry *UsageEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_entries (id, principal_type, principal_id, kind, amount, created_at)
		 VALUES (?,?,?,?,?,?)`,
		entry.ID, entry.PrincipalType, entry.PrincipalID, entry.Kind, entry.Amount, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UsageSince(ctx context.Context, pt PrincipalType, principalID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM usage_entries
		 WHERE principal_type = ? AND principal_id = ? AND created_at >= ?`,
		pt, principalID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("usage since: %w", err)
	}
	return total.Int64, nil
}

func (s *SQLiteStore) Debt(ctx context.Context, pt PrincipalType, principalID string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM debts WHERE principal_type = ? AND principal_id = ?`,
		pt, principalID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get debt: %w", err)
	}
	return amount, nil
}

func (s *SQLiteStore) AddDebt(ctx context.Context, pt PrincipalType, principalID string, delta int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO debts (principal_type, principal_id, amount) VALUES (?,?,?)
		 ON CONFLICT(principal_type, principal_id) DO UPDATE SET amount = amount + excluded.amount`,
		pt, principalID, delta)
	if err != nil {
		return fmt.Errorf("add debt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UsersDueForReset(ctx context.Context, now time.Time) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, next_quota_reset, auto_topup_enabled, auto_topup_threshold, auto_topup_amount
		 FROM users WHERE next_quota_reset <= ? ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("users due for reset: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.NextQuotaReset,
			&u.AutoTopupEnabled, &u.AutoTopupThreshold, &u.AutoTopupAmount); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

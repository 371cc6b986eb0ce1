package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidemark/authd/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository    = (*PostgresUserRepo)(nil)
	_ ClientRepository  = (*PostgresClientRepo)(nil)
	_ CodeRepository    = (*PostgresCodeRepo)(nil)
	_ TokenRepository   = (*PostgresTokenRepo)(nil)
	_ SessionRepository = (*PostgresSessionRepo)(nil)
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(db *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const insertUserSQL = `INSERT INTO users (id, name, email, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING id, name, email, password_hash, created_at, updated_at`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL, user.ID, user.Name, user.Email, user.PasswordHash)
	var out domain.User
	if err := row.Scan(&out.ID, &out.Name, &out.Email, &out.PasswordHash, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, ErrDuplicate
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return out, nil
}

const selectUserSQL = `SELECT id, name, email, password_hash, created_at, updated_at FROM users`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email)
	var out domain.User
	if err := row.Scan(&out.ID, &out.Name, &out.Email, &out.PasswordHash, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, userID)
	var out domain.User
	if err := row.Scan(&out.ID, &out.Name, &out.Email, &out.PasswordHash, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", mapNoRows(err))
	}
	return out, nil
}

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(db *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: db}
}

const clientColumns = `id, user_id, name, secret, redirect_uri, personal_access_client, password_client, revoked, created_at`

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO oauth_clients (id, user_id, name, secret, redirect_uri, personal_access_client, password_client)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+clientColumns,
		client.ID, client.UserID, client.Name, client.Secret, client.RedirectURI,
		client.PersonalAccessClient, client.PasswordClient,
	)
	out, err := scanClient(row)
	if err != nil {
		return domain.Client{}, fmt.Errorf("create client: %w", err)
	}
	return out, nil
}

func (r *PostgresClientRepo) Get(ctx context.Context, clientID string) (domain.Client, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM oauth_clients WHERE id = $1`, clientID)
	out, err := scanClient(row)
	if err != nil {
		return domain.Client{}, fmt.Errorf("get client: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresClientRepo) List(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.Query(ctx, `SELECT `+clientColumns+` FROM oauth_clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func (r *PostgresClientRepo) Revoke(ctx context.Context, clientID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE oauth_clients SET revoked = TRUE WHERE id = $1`, clientID)
	if err != nil {
		return false, fmt.Errorf("revoke client: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanClient(row pgx.Row) (domain.Client, error) {
	var out domain.Client
	err := row.Scan(&out.ID, &out.UserID, &out.Name, &out.Secret, &out.RedirectURI,
		&out.PersonalAccessClient, &out.PasswordClient, &out.Revoked, &out.CreatedAt)
	return out, err
}

// PostgresCodeRepo implements CodeRepository.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(db *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: db}
}

func (r *PostgresCodeRepo) Create(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.db.Exec(ctx, `INSERT INTO oauth_auth_codes (id, client_id, user_id, scopes, redirect_uri, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		code.ID, code.ClientID, code.UserID, code.Scopes, code.RedirectURI, code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert auth code: %w", err)
	}
	return nil
}

func (r *PostgresCodeRepo) Get(ctx context.Context, codeID string) (domain.AuthorizationCode, error) {
	row := r.db.QueryRow(ctx, `SELECT id, client_id, user_id, scopes, redirect_uri, expires_at, revoked, created_at
FROM oauth_auth_codes WHERE id = $1`, codeID)
	var out domain.AuthorizationCode
	if err := row.Scan(&out.ID, &out.ClientID, &out.UserID, &out.Scopes, &out.RedirectURI,
		&out.ExpiresAt, &out.Revoked, &out.CreatedAt); err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("get auth code: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresCodeRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_auth_codes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(db *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

const insertAccessSQL = `INSERT INTO oauth_access_tokens (id, client_id, user_id, scopes, expires_at)
VALUES ($1, $2, $3, $4, $5)`

const insertRefreshSQL = `INSERT INTO oauth_refresh_tokens (id, access_token_id, expires_at)
VALUES ($1, $2, $3)`

func (r *PostgresTokenRepo) CreatePair(ctx context.Context, access domain.AccessToken, refresh domain.RefreshToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create pair: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertAccessSQL, access.ID, access.ClientID, access.UserID, access.Scopes, access.ExpiresAt); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	if _, err := tx.Exec(ctx, insertRefreshSQL, refresh.ID, refresh.AccessTokenID, refresh.ExpiresAt); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create pair: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) CreateAccessToken(ctx context.Context, access domain.AccessToken) error {
	if _, err := r.db.Exec(ctx, insertAccessSQL, access.ID, access.ClientID, access.UserID, access.Scopes, access.ExpiresAt); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) GetAccessToken(ctx context.Context, tokenID string) (domain.AccessToken, error) {
	row := r.db.QueryRow(ctx, `SELECT id, client_id, user_id, scopes, expires_at, revoked, created_at
FROM oauth_access_tokens WHERE id = $1`, tokenID)
	var out domain.AccessToken
	if err := row.Scan(&out.ID, &out.ClientID, &out.UserID, &out.Scopes, &out.ExpiresAt, &out.Revoked, &out.CreatedAt); err != nil {
		return domain.AccessToken{}, fmt.Errorf("get access token: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresTokenRepo) GetRefreshToken(ctx context.Context, tokenID string) (domain.RefreshToken, error) {
	row := r.db.QueryRow(ctx, `SELECT id, access_token_id, expires_at, revoked, created_at
FROM oauth_refresh_tokens WHERE id = $1`, tokenID)
	var out domain.RefreshToken
	if err := row.Scan(&out.ID, &out.AccessTokenID, &out.ExpiresAt, &out.Revoked, &out.CreatedAt); err != nil {
		return domain.RefreshToken{}, fmt.Errorf("get refresh token: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresTokenRepo) RevokeAccessToken(ctx context.Context, tokenID string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin revoke: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE oauth_access_tokens SET revoked = TRUE WHERE id = $1`, tokenID)
	if err != nil {
		return false, fmt.Errorf("revoke access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `UPDATE oauth_refresh_tokens SET revoked = TRUE WHERE access_token_id = $1`, tokenID); err != nil {
		return false, fmt.Errorf("revoke linked refresh token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit revoke: %w", err)
	}
	return true, nil
}

func (r *PostgresTokenRepo) ExchangeCode(ctx context.Context, codeID string, access domain.AccessToken, refresh domain.RefreshToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin exchange: %w", err)
	}
	defer tx.Rollback(ctx)

	// Conditional update: of two concurrent redemptions exactly one sees a
	// live row here, the other gets zero rows and fails before any insert.
	tag, err := tx.Exec(ctx, `UPDATE oauth_auth_codes SET revoked = TRUE
WHERE id = $1 AND revoked = FALSE AND expires_at > now()`, codeID)
	if err != nil {
		return fmt.Errorf("consume auth code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConsumed
	}

	if _, err := tx.Exec(ctx, insertAccessSQL, access.ID, access.ClientID, access.UserID, access.Scopes, access.ExpiresAt); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	if _, err := tx.Exec(ctx, insertRefreshSQL, refresh.ID, refresh.AccessTokenID, refresh.ExpiresAt); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) Rotate(ctx context.Context, refreshTokenID string, access domain.AccessToken, refresh domain.RefreshToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldAccessID string
	err = tx.QueryRow(ctx, `UPDATE oauth_refresh_tokens SET revoked = TRUE
WHERE id = $1 AND revoked = FALSE AND expires_at > now()
RETURNING access_token_id`, refreshTokenID).Scan(&oldAccessID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConsumed
		}
		return fmt.Errorf("consume refresh token: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE oauth_access_tokens SET revoked = TRUE WHERE id = $1`, oldAccessID); err != nil {
		return fmt.Errorf("revoke rotated access token: %w", err)
	}
	if _, err := tx.Exec(ctx, insertAccessSQL, access.ID, access.ClientID, access.UserID, access.Scopes, access.ExpiresAt); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	if _, err := tx.Exec(ctx, insertRefreshSQL, refresh.ID, refresh.AccessTokenID, refresh.ExpiresAt); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin revoke all: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE oauth_refresh_tokens SET revoked = TRUE
WHERE access_token_id IN (SELECT id FROM oauth_access_tokens WHERE user_id = $1)`, userID); err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE oauth_access_tokens SET revoked = TRUE
WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user access tokens: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit revoke all: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback(ctx)

	refreshTag, err := tx.Exec(ctx, `DELETE FROM oauth_refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	accessTag, err := tx.Exec(ctx, `DELETE FROM oauth_access_tokens
WHERE expires_at < $1 AND id NOT IN (SELECT access_token_id FROM oauth_refresh_tokens)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep access tokens: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return refreshTag.RowsAffected() + accessTag.RowsAffected(), nil
}

// PostgresSessionRepo implements SessionRepository.
type PostgresSessionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSessionRepo(db *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.SessionToken) error {
	_, err := r.db.Exec(ctx, `INSERT INTO session_tokens (token, user_id, access_token_id, expires_at)
VALUES ($1, $2, $3, $4)`,
		session.Token, session.UserID, session.AccessTokenID, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session token: %w", err)
	}
	return nil
}

const sessionColumns = `token, user_id, access_token_id, expires_at, is_revoked, created_at`

func (r *PostgresSessionRepo) Get(ctx context.Context, token string) (domain.SessionToken, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM session_tokens WHERE token = $1`, token)
	var out domain.SessionToken
	if err := row.Scan(&out.Token, &out.UserID, &out.AccessTokenID, &out.ExpiresAt, &out.IsRevoked, &out.CreatedAt); err != nil {
		return domain.SessionToken{}, fmt.Errorf("get session token: %w", mapNoRows(err))
	}
	return out, nil
}

func (r *PostgresSessionRepo) Extend(ctx context.Context, token, newAccessTokenID string, newExpiry time.Time) (domain.SessionToken, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.SessionToken{}, fmt.Errorf("begin extend: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock first so concurrent refreshes serialize on the session row.
	var out domain.SessionToken
	err = tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM session_tokens WHERE token = $1 FOR UPDATE`, token).
		Scan(&out.Token, &out.UserID, &out.AccessTokenID, &out.ExpiresAt, &out.IsRevoked, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionToken{}, ErrConsumed
		}
		return domain.SessionToken{}, fmt.Errorf("lock session: %w", err)
	}
	if !out.Live(time.Now()) {
		return domain.SessionToken{}, ErrConsumed
	}

	if out.AccessTokenID != "" {
		if _, err := tx.Exec(ctx, `UPDATE oauth_access_tokens SET revoked = TRUE WHERE id = $1`, out.AccessTokenID); err != nil {
			return domain.SessionToken{}, fmt.Errorf("revoke replaced access token: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE session_tokens SET access_token_id = $2, expires_at = $3 WHERE token = $1`,
		token, newAccessTokenID, newExpiry); err != nil {
		return domain.SessionToken{}, fmt.Errorf("extend session: %w", err)
	}
	out.AccessTokenID = newAccessTokenID
	out.ExpiresAt = newExpiry
	if err := tx.Commit(ctx); err != nil {
		return domain.SessionToken{}, fmt.Errorf("commit extend: %w", err)
	}
	return out, nil
}

func (r *PostgresSessionRepo) RevokeByAccessTokenID(ctx context.Context, accessTokenID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE session_tokens SET is_revoked = TRUE WHERE access_token_id = $1`, accessTokenID)
	if err != nil {
		return false, fmt.Errorf("revoke session by access token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresSessionRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE session_tokens SET is_revoked = TRUE
WHERE user_id = $1 AND is_revoked = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresSessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM session_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep session tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

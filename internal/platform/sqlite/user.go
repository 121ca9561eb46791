package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
)

const userColumns = `id, username, password, is_admin, permissions`

func scanUser(s rowScanner) (*domain.User, error) {
	var (
		u       domain.User
		isAdmin int
	)
	if err := s.Scan(&u.ID, &u.Username, &u.Password, &isAdmin, &u.Permissions); err != nil {
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	return &u, nil
}

// AddUser inserts a user and sets u.ID.
// Returns ErrUsernameExists if the name is taken.
func (d *DB) AddUser(ctx context.Context, u *domain.User) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO user (username, password, is_admin, permissions) VALUES (?, ?, ?, ?)`,
		u.Username, u.Password, boolToInt(u.IsAdmin), u.Permissions)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrUsernameExists
		}
		return MapError(err, "user", "insert", nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MapError(err, "user", "insert", nil)
	}
	u.ID = id
	return nil
}

// GetUser retrieves a user by id.
func (d *DB) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE id = ?`, id))
	if err != nil {
		return nil, MapError(err, "user", "select", store.ErrUserNotFound)
	}
	return u, nil
}

// GetUserByName retrieves a user by username.
func (d *DB) GetUserByName(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE username = ?`, username))
	if err != nil {
		return nil, MapError(err, "user", "select", store.ErrUserNotFound)
	}
	return u, nil
}

// GetUsers pages through users ordered by id.
func (d *DB) GetUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM user ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, MapError(err, "user", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, MapError(err, "user", "scan", nil)
		}
		out = append(out, *u)
	}
	return out, MapError(rows.Err(), "user", "select", nil)
}

// UpdateUser rewrites every column of a user.
func (d *DB) UpdateUser(ctx context.Context, u *domain.User) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE user SET username = ?, password = ?, is_admin = ?, permissions = ? WHERE id = ?`,
		u.Username, u.Password, boolToInt(u.IsAdmin), u.Permissions, u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrUsernameExists
		}
		return MapError(err, "user", "update", nil)
	}
	return requireAffected(res, "user", "update", store.ErrUserNotFound)
}

// DeleteUser removes a user together with its sessions.
func (d *DB) DeleteUser(ctx context.Context, id int64) error {
	return d.withTx(ctx, store.TxImmediate, func(ctx context.Context, q store.DBTX) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM token WHERE uid = ?`, id); err != nil {
			return MapError(err, "token", "delete", nil)
		}
		res, err := q.ExecContext(ctx, `DELETE FROM user WHERE id = ?`, id)
		if err != nil {
			return MapError(err, "user", "delete", nil)
		}
		return requireAffected(res, "user", "delete", store.ErrUserNotFound)
	})
}

// UserCount returns the number of users.
func (d *DB) UserCount(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user`).Scan(&n)
	return n, MapError(err, "user", "count", nil)
}

const tokenColumns = `id, uid, token, expired, http_only, secure, last_used,
	client, device, client_version, client_platform`

func scanToken(s rowScanner) (*domain.Token, error) {
	var (
		t                 domain.Token
		expired           int64
		httpOnly, secure  int
		lastUsed          sql.NullString
		client, device    sql.NullString
		version, platform sql.NullString
	)
	if err := s.Scan(&t.ID, &t.UID, &t.Token, &expired, &httpOnly, &secure, &lastUsed,
		&client, &device, &version, &platform); err != nil {
		return nil, err
	}
	t.Expired = time.Unix(expired, 0).UTC()
	t.HTTPOnly = httpOnly != 0
	t.Secure = secure != 0
	if lastUsed.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, lastUsed.String); err == nil {
			t.LastUsed = ts
		}
	}
	t.Client = stringPtr(client)
	t.Device = stringPtr(device)
	t.ClientVersion = stringPtr(version)
	t.ClientPlatform = stringPtr(platform)
	return &t, nil
}

// AddToken inserts a session token and sets t.ID.
func (d *DB) AddToken(ctx context.Context, t *domain.Token) error {
	if t.LastUsed.IsZero() {
		t.LastUsed = time.Now().UTC()
	}
	res, err := d.db.ExecContext(ctx, `INSERT INTO token (uid, token, expired, http_only, secure,
		last_used, client, device, client_version, client_platform)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UID, t.Token, t.Expired.Unix(), boolToInt(t.HTTPOnly), boolToInt(t.Secure),
		t.LastUsed.UTC().Format(time.RFC3339Nano),
		nullString(t.Client), nullString(t.Device), nullString(t.ClientVersion), nullString(t.ClientPlatform))
	if err != nil {
		return MapError(err, "token", "insert", nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MapError(err, "token", "insert", nil)
	}
	t.ID = id
	return nil
}

// GetToken retrieves a session by its bearer value.
func (d *DB) GetToken(ctx context.Context, token string) (*domain.Token, error) {
	t, err := scanToken(d.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM token WHERE token = ?`, token))
	if err != nil {
		return nil, MapError(err, "token", "select", store.ErrTokenNotFound)
	}
	return t, nil
}

// UpdateTokenLastUsed stamps a session with the current time.
func (d *DB) UpdateTokenLastUsed(ctx context.Context, token string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE token SET last_used = ? WHERE token = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), token)
	if err != nil {
		return MapError(err, "token", "update", nil)
	}
	return requireAffected(res, "token", "update", store.ErrTokenNotFound)
}

// DeleteToken removes a session. A missing token is not an error.
func (d *DB) DeleteToken(ctx context.Context, token string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM token WHERE token = ?`, token)
	return MapError(err, "token", "delete", nil)
}

// DeleteExpiredTokens removes every session past its expiry and reports how
// many were removed.
func (d *DB) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM token WHERE expired <= ?`, time.Now().Unix())
	if err != nil {
		return 0, MapError(err, "token", "delete", nil)
	}
	n, err := res.RowsAffected()
	return n, MapError(err, "token", "delete", nil)
}

const sharedTokenColumns = `id, token, expired, type, info`

func scanSharedToken(s rowScanner) (*domain.SharedToken, error) {
	var (
		t       domain.SharedToken
		expired sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.Token, &expired, &t.Type, &t.Info); err != nil {
		return nil, err
	}
	if expired.Valid {
		ts := time.Unix(expired.Int64, 0).UTC()
		t.Expired = &ts
	}
	return &t, nil
}

// AddSharedToken inserts a capability token and sets t.ID.
func (d *DB) AddSharedToken(ctx context.Context, t *domain.SharedToken) error {
	var expired any
	if t.Expired != nil {
		expired = t.Expired.Unix()
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO shared_token (token, expired, type, info) VALUES (?, ?, ?, ?)`,
		t.Token, expired, string(t.Type), t.Info)
	if err != nil {
		return MapError(err, "shared_token", "insert", nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MapError(err, "shared_token", "insert", nil)
	}
	t.ID = id
	return nil
}

// GetSharedToken retrieves a capability token by value.
func (d *DB) GetSharedToken(ctx context.Context, token string) (*domain.SharedToken, error) {
	t, err := scanSharedToken(d.db.QueryRowContext(ctx,
		`SELECT `+sharedTokenColumns+` FROM shared_token WHERE token = ?`, token))
	if err != nil {
		return nil, MapError(err, "shared_token", "select", store.ErrSharedTokenNotFound)
	}
	return t, nil
}

// GetSharedTokens lists the capability tokens of one type ordered by id.
func (d *DB) GetSharedTokens(ctx context.Context, typ domain.SharedTokenType) ([]domain.SharedToken, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sharedTokenColumns+` FROM shared_token WHERE type = ? ORDER BY id`, string(typ))
	if err != nil {
		return nil, MapError(err, "shared_token", "select", nil)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.SharedToken{}
	for rows.Next() {
		t, err := scanSharedToken(rows)
		if err != nil {
			return nil, MapError(err, "shared_token", "scan", nil)
		}
		out = append(out, *t)
	}
	return out, MapError(rows.Err(), "shared_token", "select", nil)
}

// DeleteSharedToken removes a capability token. A missing token is not an error.
func (d *DB) DeleteSharedToken(ctx context.Context, token string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM shared_token WHERE token = ?`, token)
	return MapError(err, "shared_token", "delete", nil)
}

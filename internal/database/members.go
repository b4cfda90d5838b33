package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"welfare/internal/model"
	"welfare/internal/store"
)

const bcryptCost = 12

const memberColumns = `id, membership_number, first_name, last_name, email, phone, address, pass_hash,
	totp_secret, is_admin, status, auth_source, last_login_at, last_activity_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*model.Member, error) {
	m := &model.Member{}
	var lastLogin, lastActivity sql.NullTime
	err := row.Scan(&m.ID, &m.MembershipNumber, &m.FirstName, &m.LastName, &m.Email, &m.Phone,
		&m.Address, &m.PassHash, &m.TOTPSecret, &m.IsAdmin, &m.Status, &m.AuthSource,
		&lastLogin, &lastActivity, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.LastLoginAt = nullTime(lastLogin)
	m.LastActivityAt = nullTime(lastActivity)
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (db *DB) getMember(ctx context.Context, where string, arg any) (*model.Member, error) {
	m, err := scanMember(db.conn.QueryRowContext(ctx,
		"SELECT "+memberColumns+" FROM members WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (db *DB) GetMemberByID(ctx context.Context, id int64) (*model.Member, error) {
	return db.getMember(ctx, "id = $1", id)
}

func (db *DB) GetMemberByNumber(ctx context.Context, number string) (*model.Member, error) {
	return db.getMember(ctx, "membership_number = $1", number)
}

func (db *DB) GetMemberByEmail(ctx context.Context, email string) (*model.Member, error) {
	return db.getMember(ctx, "LOWER(email) = LOWER($1)", email)
}

func (db *DB) HasAdmin(ctx context.Context) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM members WHERE is_admin").Scan(&count)
	return count > 0, err
}

func (db *DB) ListMembers(ctx context.Context, f model.MemberFilter) ([]model.Member, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		conds = append(conds, fmt.Sprintf(
			"(LOWER(first_name || ' ' || last_name) LIKE $%d OR LOWER(email) LIKE $%d OR LOWER(membership_number) LIKE $%d)",
			len(args), len(args), len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM members"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM members%s ORDER BY id LIMIT $%d OFFSET $%d",
			memberColumns, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, 0, err
		}
		members = append(members, *m)
	}
	return members, total, rows.Err()
}

func (db *DB) ListActiveMembers(ctx context.Context) ([]model.Member, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+memberColumns+" FROM members WHERE status = 'active' ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (db *DB) CreateMember(ctx context.Context, m *model.Member, password string) error {
	hash := ""
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
		if err != nil {
			return err
		}
		hash = string(b)
	}
	if m.Status == "" {
		m.Status = model.StatusActive
	}
	if m.AuthSource == "" {
		m.AuthSource = "local"
	}
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO members (membership_number, first_name, last_name, email, phone, address,
		   pass_hash, is_admin, status, auth_source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		m.MembershipNumber, m.FirstName, m.LastName, m.Email, m.Phone, m.Address,
		hash, m.IsAdmin, m.Status, m.AuthSource,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return err
	}
	m.PassHash = hash
	return nil
}

func (db *DB) UpdateMemberProfile(ctx context.Context, m *model.Member) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE members SET first_name = $1, last_name = $2, email = $3, phone = $4, address = $5,
		   updated_at = NOW()
		 WHERE id = $6`,
		m.FirstName, m.LastName, m.Email, m.Phone, m.Address, m.ID)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return expectOne(res, err)
}

func (db *DB) UpdateMemberPassword(ctx context.Context, id int64, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}
	return expectOne(db.conn.ExecContext(ctx,
		"UPDATE members SET pass_hash = $1, updated_at = NOW() WHERE id = $2", string(hash), id))
}

func (db *DB) SetMemberStatus(ctx context.Context, id int64, status string) error {
	return expectOne(db.conn.ExecContext(ctx,
		"UPDATE members SET status = $1, updated_at = NOW() WHERE id = $2", status, id))
}

func (db *DB) SetMemberAdmin(ctx context.Context, id int64, admin bool) error {
	return expectOne(db.conn.ExecContext(ctx,
		"UPDATE members SET is_admin = $1, updated_at = NOW() WHERE id = $2", admin, id))
}

func (db *DB) SetMemberTOTPSecret(ctx context.Context, id int64, secret string) error {
	return expectOne(db.conn.ExecContext(ctx,
		"UPDATE members SET totp_secret = $1, updated_at = NOW() WHERE id = $2", secret, id))
}

func (db *DB) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE members SET last_login_at = $1, last_activity_at = $1 WHERE id = $2", at, id)
	return err
}

func (db *DB) TouchActivity(ctx context.Context, id int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE members SET last_activity_at = $1 WHERE id = $2", at, id)
	return err
}

// AuthenticateMember accepts either the membership number or the email as
// identifier. Unknown, inactive or mismatching credentials yield (nil, nil).
func (db *DB) AuthenticateMember(ctx context.Context, identifier, password string) (*model.Member, error) {
	m, err := db.GetMemberByNumber(ctx, identifier)
	if err == nil && m == nil {
		m, err = db.GetMemberByEmail(ctx, identifier)
	}
	if err != nil || m == nil || !m.Active() || m.PassHash == "" {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PassHash), []byte(password)); err != nil {
		return nil, nil
	}
	return m, nil
}

// UpsertLDAPMember provisions a directory-authenticated member keyed by
// membership number, refreshing email and admin flag on every login.
func (db *DB) UpsertLDAPMember(ctx context.Context, m *model.Member) error {
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO members (membership_number, email, is_admin, auth_source)
		 VALUES ($1, $2, $3, 'ldap')
		 ON CONFLICT(membership_number) DO UPDATE SET
		   email = EXCLUDED.email, is_admin = EXCLUDED.is_admin, auth_source = 'ldap', updated_at = NOW()
		 RETURNING id`,
		m.MembershipNumber, m.Email, m.IsAdmin,
	).Scan(&m.ID)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

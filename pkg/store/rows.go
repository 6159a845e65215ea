package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

const userColumns = `id, username, password_hash, role, auth_provider, github_id, created_at, updated_at`

// scanUser reads one user row. A missing row yields (nil, nil).
func scanUser(row rowScanner) (*User, error) {
	var (
		user                   User
		passwordHash, githubID sql.NullString
	)

	err := row.Scan(&user.ID, &user.Username, &passwordHash, &user.Role, &user.AuthProvider,
		&githubID, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	user.PasswordHash = passwordHash.String
	user.GitHubID = githubID.String

	return &user, nil
}

// scanSession reads one session row. A missing row yields (nil, nil).
func scanSession(row rowScanner) (*Session, error) {
	var session Session

	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.ExpiresAt, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &session, nil
}

// scanOAuthState reads one oauth state row. A missing row yields (nil, nil).
func scanOAuthState(row rowScanner) (*OAuthState, error) {
	var state OAuthState

	err := row.Scan(&state.State, &state.ExpiresAt, &state.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &state, nil
}

// auditFilter builds the WHERE clause shared by the audit list and count
// queries.
func auditFilter(opts AuditQueryOpts, ph placeholder) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s %s", column, ph(len(args))))
	}

	if opts.EntityType != nil {
		add("entity_type =", string(*opts.EntityType))
	}

	if opts.EntityID != nil {
		add("entity_id =", *opts.EntityID)
	}

	if opts.Action != nil {
		add("action =", string(*opts.Action))
	}

	if opts.Actor != nil {
		add("actor =", *opts.Actor)
	}

	if opts.Since != nil {
		add("created_at >=", opts.Since.UTC())
	}

	if opts.Until != nil {
		add("created_at <=", opts.Until.UTC())
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

// auditPage appends ordering and pagination to an audit list query.
func auditPage(query string, opts AuditQueryOpts) string {
	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	return query
}

func scanAuditEntries(rows *sql.Rows) ([]*AuditEntry, error) {
	defer rows.Close()

	entries := make([]*AuditEntry, 0)

	for rows.Next() {
		var (
			entry          AuditEntry
			actor, details sql.NullString
		)

		if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType, &entry.EntityID,
			&actor, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit_entry: %w", err)
		}

		entry.Actor = actor.String
		entry.Details = details.String
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

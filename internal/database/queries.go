package database

import (
	"errors"
	"time"

	"github.com/lib/pq"
)

// ErrUsernameTaken is returned by CreateAccount when the username is in use.
var ErrUsernameTaken = errors.New("username already taken")

const uniqueViolation = "23505"

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $3) RETURNING id, username, created_at, updated_at",
		params.Username,
		params.PasswordHash,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return User{}, ErrUsernameTaken
		}
		return User{}, err
	}

	return u, nil
}

func (db *PgRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) GetAccountByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, created_at, updated_at FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) GetGroup(groupId int) (Group, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, description, owner_id, created_at, updated_at FROM groups "+
			"WHERE id = $1 LIMIT 1",
		groupId,
	)

	var g Group
	err := row.Scan(
		&g.Id,
		&g.Name,
		&g.Description,
		&g.OwnerId,
		&g.CreatedAt,
		&g.UpdatedAt,
	)

	return g, err
}

func (db *PgRepository) IsGroupMember(groupId, accountId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND account_id = $2)",
		groupId,
		accountId,
	).Scan(&exists)

	return exists, err
}

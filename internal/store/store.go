// Package store reads room membership from the relational store so the
// gateway can authorize socket joins.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/parlor/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS rooms (
	room_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	room_name TEXT NOT NULL,
	user_id   INTEGER NOT NULL REFERENCES users(user_id)
);
CREATE TABLE IF NOT EXISTS user_rooms (
	user_id   INTEGER NOT NULL REFERENCES users(user_id),
	room_id   INTEGER NOT NULL REFERENCES rooms(room_id),
	joined_at TEXT NOT NULL,
	PRIMARY KEY (user_id, room_id)
);
`

type Store struct {
	db *sql.DB
}

// Open opens the sqlite database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, username string) (domain.UserID, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		return 0, fmt.Errorf("error creating user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error creating user: %w", err)
	}
	return domain.UserID(id), nil
}

func (s *Store) Username(ctx context.Context, id domain.UserID) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM users WHERE user_id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error querying user: %w", err)
	}
	return name, nil
}

// CreateRoom creates a room and makes its owner the first member.
func (s *Store) CreateRoom(ctx context.Context, name string, owner domain.UserID) (domain.RoomID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating room: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO rooms (room_name, user_id) VALUES (?, ?)`, name, owner)
	if err != nil {
		return 0, fmt.Errorf("error creating room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error creating room: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_rooms (user_id, room_id, joined_at) VALUES (?, ?, ?)`,
		owner, id, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, fmt.Errorf("error adding owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error creating room: %w", err)
	}
	return domain.RoomID(id), nil
}

func (s *Store) AddMember(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	ok, err := s.IsMember(ctx, room, user)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyExists
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_rooms (user_id, room_id, joined_at) VALUES (?, ?, ?)`,
		user, room, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("error adding member: %w", err)
	}
	return nil
}

func (s *Store) RoomExists(ctx context.Context, room domain.RoomID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE room_id = ?`, room).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error querying room: %w", err)
	}
	return true, nil
}

func (s *Store) IsMember(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_rooms WHERE room_id = ? AND user_id = ?`, room, user).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error querying membership: %w", err)
	}
	return true, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_id, room_name, user_id FROM rooms ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("error listing rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		var r domain.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerID); err != nil {
			return nil, fmt.Errorf("error scanning room: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

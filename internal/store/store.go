package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists room metadata so permanent rooms can be recovered after a
// restart. It is only read during bootstrapping; live traffic never touches
// it.
type Store struct {
	db *sql.DB
}

// RoomRecord is everything needed to bring a room back: its immutable
// configuration, the signed key and the on-disk log paths.
type RoomRecord struct {
	Name            string
	CanvasWidth     int
	CanvasHeight    int
	Password        string
	MaxLoad         int
	WelcomeMsg      string
	EmptyClose      bool
	ExpirationHours int
	Permanent       bool
	Key             string
	DataFile        string
	MsgFile         string
	CreatedAt       time.Time
	CheckoutAt      time.Time
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		name TEXT PRIMARY KEY,
		canvas_width INTEGER NOT NULL,
		canvas_height INTEGER NOT NULL,
		password TEXT NOT NULL DEFAULT '',
		max_load INTEGER NOT NULL,
		welcome_msg TEXT NOT NULL DEFAULT '',
		empty_close BOOLEAN NOT NULL DEFAULT FALSE,
		expiration_hours INTEGER NOT NULL DEFAULT 0,
		permanent BOOLEAN NOT NULL DEFAULT TRUE,
		key TEXT NOT NULL,
		data_file TEXT NOT NULL,
		msg_file TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		checkout_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRoom inserts or replaces a room's record.
func (s *Store) SaveRoom(rec RoomRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO rooms (name, canvas_width, canvas_height, password, max_load,
			welcome_msg, empty_close, expiration_hours, permanent, key, data_file, msg_file,
			checkout_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			password = excluded.password,
			max_load = excluded.max_load,
			welcome_msg = excluded.welcome_msg,
			empty_close = excluded.empty_close,
			expiration_hours = excluded.expiration_hours,
			permanent = excluded.permanent,
			key = excluded.key,
			data_file = excluded.data_file,
			msg_file = excluded.msg_file,
			checkout_at = CURRENT_TIMESTAMP
	`, rec.Name, rec.CanvasWidth, rec.CanvasHeight, rec.Password, rec.MaxLoad,
		rec.WelcomeMsg, rec.EmptyClose, rec.ExpirationHours, rec.Permanent,
		rec.Key, rec.DataFile, rec.MsgFile)
	return err
}

func (s *Store) GetRoom(name string) (*RoomRecord, error) {
	row := s.db.QueryRow(`
		SELECT name, canvas_width, canvas_height, password, max_load, welcome_msg,
			empty_close, expiration_hours, permanent, key, data_file, msg_file,
			created_at, checkout_at
		FROM rooms WHERE name = ?
	`, name)

	var rec RoomRecord
	err := scanRoom(row.Scan, &rec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRooms returns every persisted room, oldest first.
func (s *Store) ListRooms() ([]RoomRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, canvas_width, canvas_height, password, max_load, welcome_msg,
			empty_close, expiration_hours, permanent, key, data_file, msg_file,
			created_at, checkout_at
		FROM rooms ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RoomRecord
	for rows.Next() {
		var rec RoomRecord
		if err := scanRoom(rows.Scan, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// TouchCheckout records a successful keep-alive.
func (s *Store) TouchCheckout(name string) error {
	_, err := s.db.Exec(
		"UPDATE rooms SET checkout_at = CURRENT_TIMESTAMP WHERE name = ?", name,
	)
	return err
}

func (s *Store) DeleteRoom(name string) error {
	_, err := s.db.Exec("DELETE FROM rooms WHERE name = ?", name)
	return err
}

func scanRoom(scan func(...any) error, rec *RoomRecord) error {
	return scan(&rec.Name, &rec.CanvasWidth, &rec.CanvasHeight, &rec.Password,
		&rec.MaxLoad, &rec.WelcomeMsg, &rec.EmptyClose, &rec.ExpirationHours,
		&rec.Permanent, &rec.Key, &rec.DataFile, &rec.MsgFile,
		&rec.CreatedAt, &rec.CheckoutAt)
}

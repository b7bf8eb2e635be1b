package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/teal-fm/genres/models"
)

// DB is a wrapper around sql.DB
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// every connection to :memory: opens its own empty database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// Initialize sets up the database tables
func (db *DB) Initialize() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		position INTEGER NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`)
	return err
}

// SaveCategories upserts one page of categories. offset is the page's
// offset in the remote listing, so positions stay comparable across pages.
func (db *DB) SaveCategories(categories []models.Category, offset int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	INSERT INTO categories (id, name, position, fetched_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		position = excluded.position,
		fetched_at = excluded.fetched_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, c := range categories {
		if _, err := stmt.Exec(c.ID, c.Name, offset+i, now); err != nil {
			return fmt.Errorf("failed to save category %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetCategories returns every stored category in listing order
func (db *DB) GetCategories() ([]*models.StoredCategory, error) {
	rows, err := db.Query(`
	SELECT id, name, position, fetched_at
	FROM categories
	ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*models.StoredCategory
	for rows.Next() {
		c := &models.StoredCategory{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Position, &c.FetchedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}

	return categories, rows.Err()
}

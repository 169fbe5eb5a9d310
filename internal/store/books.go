package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/bookswap/internal/model"
)

// CreateBook adds a book to a user's shelf.
func CreateBook(ctx context.Context, db *sql.DB, ownerID int64, title, author string) (*model.Book, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidArgument)
	}
	if err := requireActiveUser(ctx, db, ownerID, "owner"); err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO books (owner_id, title, author) VALUES (?, ?, ?)`,
		ownerID, title, author,
	)
	if err != nil {
		return nil, fmt.Errorf("creating book: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting book id: %w", err)
	}
	return GetBook(ctx, db, id)
}

// GetBook returns a book by ID.
func GetBook(ctx context.Context, db *sql.DB, id int64) (*model.Book, error) {
	b := &model.Book{}
	err := db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, author, created_at FROM books WHERE id = ?`, id,
	).Scan(&b.ID, &b.OwnerID, &b.Title, &b.Author, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting book: %w", err)
	}
	return b, nil
}

// ListBooks returns books, optionally filtered by owner.
func ListBooks(ctx context.Context, db *sql.DB, ownerID int64) ([]model.Book, error) {
	query := `SELECT id, owner_id, title, author, created_at FROM books WHERE 1=1`
	var args []any
	if ownerID > 0 {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY title`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Title, &b.Author, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// requireBook fails with ErrNotFound unless the book exists.
func requireBook(ctx context.Context, q querier, id int64, role string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM books WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s book %d", ErrNotFound, role, id)
	}
	if err != nil {
		return fmt.Errorf("checking %s book: %w", role, err)
	}
	return nil
}

package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/bookswap/internal/model"
	"github.com/erazemk/bookswap/internal/store"
)

// BooksHandler handles catalog endpoints.
type BooksHandler struct {
	DB *sql.DB
}

type createBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// Create handles POST /api/books. The book is added to the caller's shelf.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	book, err := store.CreateBook(r.Context(), h.DB, caller(r).UserID, req.Title, req.Author)
	if err != nil {
		storeError(w, err, "create book")
		return
	}

	slog.Info("book created", "book", book.ID, "owner", book.OwnerID)
	jsonResponse(w, http.StatusCreated, book)
}

// List handles GET /api/books?owner=.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	var ownerID int64
	if v := r.URL.Query().Get("owner"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid owner id")
			return
		}
		ownerID = id
	}

	books, err := store.ListBooks(r.Context(), h.DB, ownerID)
	if err != nil {
		slog.Error("failed to list books", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	jsonResponse(w, http.StatusOK, books)
}

// Get handles GET /api/books/{id}.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "book")
	if !ok {
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get book", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if book == nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}
	jsonResponse(w, http.StatusOK, book)
}

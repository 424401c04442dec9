// Package models defines data structures shared by the scrapers, validators and orchestrator.
package models

import "strings"

// Book is a reading-list entry as supplied by the book store.
type Book struct {
	ID          string   `json:"id,omitempty"`
	GoodreadsID string   `json:"goodreads_id,omitempty"`
	Title       string   `json:"title"`
	BookTitle   string   `json:"book_title,omitempty"`
	AuthorName  string   `json:"author_name"`
	Genre       string   `json:"genre,omitempty"`
	Subgenre    string   `json:"subgenre,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Tropes      []string `json:"tropes,omitempty"`
	ISBN        string   `json:"isbn,omitempty"`
}

// DisplayTitle prefers the parsed book_title over the raw title.
func (b *Book) DisplayTitle() string {
	if b == nil {
		return ""
	}
	if t := strings.TrimSpace(b.BookTitle); t != "" {
		return t
	}
	return strings.TrimSpace(b.Title)
}

// Author returns the trimmed author name.
func (b *Book) Author() string {
	if b == nil {
		return ""
	}
	return strings.TrimSpace(b.AuthorName)
}

// AllGenres merges genre, subgenre and the genres list, skipping blanks.
func (b *Book) AllGenres() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.Genres)+2)
	for _, g := range append([]string{b.Genre, b.Subgenre}, b.Genres...) {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// Key identifies a book for caching and de-duplication.
func (b *Book) Key() string {
	if b == nil {
		return ""
	}
	switch {
	case b.GoodreadsID != "":
		return "goodreads:" + b.GoodreadsID
	case b.ISBN != "":
		return "isbn:" + b.ISBN
	case b.ID != "":
		return "id:" + b.ID
	}
	return "title:" + strings.ToLower(b.DisplayTitle()) + "|" + strings.ToLower(b.Author())
}

// SearchQuery joins title and author into a catalog search string.
func (b *Book) SearchQuery() string {
	return strings.TrimSpace(b.DisplayTitle() + " " + b.Author())
}

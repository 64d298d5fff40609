package library

import "time"

// Book is one cached book as seen by listing views.
type Book struct {
	ProviderID string    `json:"provider_id"`
	BookID     string    `json:"book_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Page is one slice of the catalog, most recently updated first.
type Page struct {
	Page  int    `json:"page"`
	Total int    `json:"total"`
	Books []Book `json:"books"`
}

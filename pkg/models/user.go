// Package models provides domain types for the Arbor collaboration system.
package models

// User is the embedded identity carried on presence, focus, and lock records.
// It is supplied by the caller at handshake time; Arbor never resolves users
// itself.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

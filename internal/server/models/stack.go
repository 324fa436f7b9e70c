// Package models contains the cache-row shapes for stacks and cards.
package models

import "time"

// Stack is a cached copy of a stack record. URI is the at:// identifier
// assigned by the authoritative store; CreatedAt is set once at creation,
// IndexedAt on every cache write.
type Stack struct {
	URI       string
	AuthorDID string
	FrontLang *string
	BackLang  *string
	Label     string
	CreatedAt time.Time
	IndexedAt time.Time
}

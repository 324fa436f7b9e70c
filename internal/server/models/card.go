package models

import "time"

// Card is a cached copy of a card record. StackID references the owning
// stack's URI; cache deletion cascades from the stack row.
type Card struct {
	URI       string
	AuthorDID string
	FrontLang string
	FrontText string
	BackLang  string
	BackText  string
	CreatedAt time.Time
	IndexedAt time.Time
	StackID   string
}

// CardContent is the language/text payload of a card without its identity,
// used when bulk-copying cards to a new stack.
type CardContent struct {
	FrontLang string
	FrontText string
	BackLang  string
	BackText  string
}

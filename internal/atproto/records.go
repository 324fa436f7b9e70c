// Package atproto implements the pieces of the AT Protocol this service
// consumes: the two flashcard record lexicons, at:// URI handling, and an
// XRPC client for repo mutations against a user's PDS.
package atproto

import "time"

// NSIDs of the record collections this service understands.
const (
	StackCollection = "xyz.flatshcards.stack"
	CardCollection  = "xyz.flatshcards.card"
)

// StackRecord is the xyz.flatshcards.stack lexicon record.
type StackRecord struct {
	Type      string    `json:"$type"`
	FrontLang *string   `json:"frontLang,omitempty"`
	BackLang  *string   `json:"backLang,omitempty"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewStackRecord builds a stack record with the $type field set.
func NewStackRecord(frontLang, backLang *string, label string, createdAt time.Time) StackRecord {
	return StackRecord{
		Type:      StackCollection,
		FrontLang: frontLang,
		BackLang:  backLang,
		Label:     label,
		CreatedAt: createdAt,
	}
}

// CardRecord is the xyz.flatshcards.card lexicon record. StackID holds the
// at:// URI of the stack the card belongs to.
type CardRecord struct {
	Type      string    `json:"$type"`
	FrontLang string    `json:"frontLang"`
	FrontText string    `json:"frontText"`
	BackLang  string    `json:"backLang"`
	BackText  string    `json:"backText"`
	StackID   string    `json:"stackId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewCardRecord builds a card record with the $type field set.
func NewCardRecord(frontLang, frontText, backLang, backText, stackURI string, createdAt time.Time) CardRecord {
	return CardRecord{
		Type:      CardCollection,
		FrontLang: frontLang,
		FrontText: frontText,
		BackLang:  backLang,
		BackText:  backText,
		StackID:   stackURI,
		CreatedAt: createdAt,
	}
}

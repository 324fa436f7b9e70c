package atproto

import (
	"fmt"
	"strings"
)

// URI is a parsed at:// record URI: at://<did>/<collection>/<rkey>.
type URI struct {
	DID        string
	Collection string
	RKey       string
}

// ParseURI parses an at:// record URI. All three components are required;
// repo- or collection-level URIs are rejected.
func ParseURI(s string) (URI, error) {
	rest, ok := strings.CutPrefix(s, "at://")
	if !ok {
		return URI{}, fmt.Errorf("invalid at-uri %q: missing at:// scheme", s)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return URI{}, fmt.Errorf("invalid at-uri %q: want at://did/collection/rkey", s)
	}
	return URI{DID: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// String renders the URI in at://did/collection/rkey form.
func (u URI) String() string {
	return fmt.Sprintf("at://%s/%s/%s", u.DID, u.Collection, u.RKey)
}

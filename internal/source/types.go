package source

import (
	"errors"
	"strings"
)

// Link is a Telegram proxy URL. Links compare by exact string equality.
type Link = string

// Kind selects the extractor for a source body.
type Kind string

const (
	KindText Kind = "text"
	KindHTML Kind = "html"
)

// ParseKind maps a config value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText:
		return KindText, nil
	case KindHTML:
		return KindHTML, nil
	default:
		return "", errors.New("unknown source kind: " + s)
	}
}

// Source is a remote document enumerating candidate proxy links.
type Source struct {
	URL  string
	Kind Kind
}

// LinkSet is an insertion-ordered set. The zero value is ready to use.
// Not safe for concurrent use; the collector fills it from one goroutine.
type LinkSet struct {
	seen  map[Link]struct{}
	order []Link
}

// Add inserts l and reports whether it was new.
func (s *LinkSet) Add(l Link) bool {
	if s.seen == nil {
		s.seen = make(map[Link]struct{})
	}
	if _, ok := s.seen[l]; ok {
		return false
	}
	s.seen[l] = struct{}{}
	s.order = append(s.order, l)
	return true
}

func (s *LinkSet) Has(l Link) bool {
	_, ok := s.seen[l]
	return ok
}

func (s *LinkSet) Len() int { return len(s.order) }

// Links returns the members in first-seen order.
func (s *LinkSet) Links() []Link {
	return append([]Link(nil), s.order...)
}

package fitskeys

import (
	"fmt"
	"strconv"

	"github.com/astrogo/fitsio"
)

// Card converts an entry to a FITS card.  The value is encoded according to
// the entry's type; if the conversion fails the card carries the raw string
// and demoted is true, so a malformed user value never blocks header writing.
func (e Entry) Card() (card fitsio.Card, demoted bool) {
	card = fitsio.Card{Name: e.Keyword, Comment: e.Comment}
	switch e.Type {
	case Bool:
		card.Value = e.Value == "T"
		return card, false
	case Int:
		i, err := strconv.Atoi(e.Value)
		if err == nil {
			card.Value = i
			return card, false
		}
	case Double:
		f, err := strconv.ParseFloat(e.Value, 64)
		if err == nil {
			card.Value = f
			return card, false
		}
	case String:
		card.Value = e.Value
		return card, false
	}
	card.Value = e.Value
	return card, true
}

// ValidKeyword returns an error if name cannot be a FITS keyword: it must be
// 1-8 characters of uppercase letters, digits, hyphen or underscore.
func ValidKeyword(name string) error {
	if name == "" {
		return ErrEmptyKeyword
	}
	if len(name) > MaxKeywordLength {
		return fmt.Errorf("keyword %q longer than %d characters", name, MaxKeywordLength)
	}
	for _, c := range name {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("keyword %q contains illegal character %q", name, c)
		}
	}
	return nil
}

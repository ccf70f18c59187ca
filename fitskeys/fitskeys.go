/*Package fitskeys provides a keyword database used to populate FITS headers.

Keywords are stored as strings along with a type tag which tells the FITS
writer how to encode the value.  The type is inferred from the text of the
value when it is not given explicitly.

Users add keys with the same syntax the camera server accepts on the wire:

	KEYWORD=VALUE//COMMENT

where the comment is optional.  A value of a sole period deletes the keyword.
*/
package fitskeys

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Type is the type tag of a keyword
type Type string

const (
	// Bool is a logical keyword, T or F
	Bool Type = "BOOL"

	// Int is an integer keyword
	Int Type = "INT"

	// Double is a floating point keyword
	Double Type = "DOUBLE"

	// String is anything else
	String Type = "STRING"
)

const (
	// MaxKeywordLength is the longest keyword FITS permits
	MaxKeywordLength = 8

	commentSeparator = "//"
)

var (
	// ErrMalformed is generated when an added key is not of the form KEYWORD=VALUE//COMMENT
	ErrMalformed = errors.New("missing or too many '=': expected KEYWORD=VALUE//COMMENT (optional comment)")

	// ErrComment is generated when the comment contains the comment separator
	ErrComment = errors.New("found too many instances of // in comment")

	// ErrEmptyKeyword is generated when the keyword is blank
	ErrEmptyKeyword = errors.New("keyword is empty")
)

// Entry is one keyword in the database
type Entry struct {
	Keyword string
	Type    Type
	Value   string
	Comment string
}

// String formats the entry as KEYWORD = VALUE // COMMENT (TYPE)
func (e Entry) String() string {
	s := e.Keyword + " = " + e.Value
	if e.Comment != "" {
		s += " // " + e.Comment
	}
	return s + " (" + string(e.Type) + ")"
}

// KeyType infers the type of a keyword from the text of its value.
//
// The rule is applied in order:
//	1. exactly "T" or "F" is BOOL
//	2. empty or all whitespace is STRING
//	3. after leading whitespace and an optional sign, a run of digits and
//	   decimal points must follow; more than one point, no digits, or
//	   anything but whitespace after the run is STRING
//	4. no point is INT, one point is DOUBLE, provided the value parses;
//	   a value that overflows or is otherwise malformed is STRING
func KeyType(value string) Type {
	if value == "T" || value == "F" {
		return Bool
	}
	s := strings.TrimLeft(value, " \t\r\n")
	if s == "" {
		return String
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}

	var digits, points, end int
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			digits++
		} else if c == '.' {
			points++
		} else {
			break
		}
		end++
	}
	if digits == 0 || points > 1 || strings.TrimSpace(s[end:]) != "" {
		return String
	}

	num := strings.TrimSpace(value)
	if points == 0 {
		if _, err := strconv.ParseInt(num, 10, 64); err != nil {
			return String
		}
		return Int
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsInf(f, 0) {
		return String
	}
	return Double
}

// normalize truncates a keyword to 8 characters, trims trailing spaces and uppercases it
func normalize(keyword string) string {
	if len(keyword) > MaxKeywordLength {
		keyword = keyword[:MaxKeywordLength]
	}
	return strings.ToUpper(strings.TrimRight(keyword, " "))
}

// DB is a keyword database.  It is safe for concurrent use.
// The zero value is an empty database ready to use.
type DB struct {
	mu   sync.RWMutex
	keys map[string]Entry

	// Logger receives informational lines.  If nil, the standard logger is used.
	Logger *log.Logger
}

// New returns an empty database
func New() *DB {
	return &DB{keys: make(map[string]Entry)}
}

func (db *DB) logf(format string, args ...interface{}) {
	if db.Logger != nil {
		db.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Add parses a string of the form KEYWORD=VALUE//COMMENT and inserts it.
//
// The keyword is truncated to 8 characters and made uppercase.  If the value
// is a sole period, the keyword is deleted instead.
func (db *DB) Add(arg string) error {
	tokens := strings.Split(arg, "=")
	if len(tokens) != 2 {
		return ErrMalformed
	}
	keyword := normalize(tokens[0])
	if strings.TrimSpace(keyword) == "" {
		return ErrEmptyKeyword
	}

	rest := tokens[1]
	value, comment := rest, ""
	if pos := strings.Index(rest, commentSeparator); pos >= 0 {
		value = rest[:pos]
		comment = strings.TrimLeft(rest[pos+len(commentSeparator):], " ")
	}
	value = strings.Trim(value, " ")

	if value == "." {
		db.mu.Lock()
		_, ok := db.keys[keyword]
		delete(db.keys, keyword)
		db.mu.Unlock()
		if ok {
			db.logf("fitskeys.Add: keyword %s erased", keyword)
		} else {
			db.logf("fitskeys.Add: keyword %s not found", keyword)
		}
		return nil
	}

	if strings.Contains(comment, commentSeparator) {
		return ErrComment
	}
	db.put(Entry{Keyword: keyword, Type: KeyType(value), Value: value, Comment: comment})
	return nil
}

// AddKey inserts a typed value.  Booleans become BOOL, integers INT,
// floats DOUBLE (with 8 decimal places) and strings are inferred with KeyType.
func (db *DB) AddKey(keyword string, value interface{}, comment string) error {
	keyword = normalize(keyword)
	if keyword == "" {
		return ErrEmptyKeyword
	}
	e := Entry{Keyword: keyword, Comment: comment}
	switch v := value.(type) {
	case bool:
		e.Type = Bool
		e.Value = "F"
		if v {
			e.Value = "T"
		}
	case int:
		e.Type, e.Value = Int, strconv.Itoa(v)
	case int32:
		e.Type, e.Value = Int, strconv.FormatInt(int64(v), 10)
	case int64:
		e.Type, e.Value = Int, strconv.FormatInt(v, 10)
	case uint16:
		e.Type, e.Value = Int, strconv.FormatUint(uint64(v), 10)
	case float32:
		e.Type, e.Value = Double, strconv.FormatFloat(float64(v), 'f', 8, 32)
	case float64:
		e.Type, e.Value = Double, strconv.FormatFloat(v, 'f', 8, 64)
	case string:
		e.Type, e.Value = KeyType(v), v
	case fmt.Stringer:
		s := v.String()
		e.Type, e.Value = KeyType(s), s
	default:
		s := fmt.Sprint(v)
		e.Type, e.Value = KeyType(s), s
	}
	db.put(e)
	return nil
}

func (db *DB) put(e Entry) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.keys == nil {
		db.keys = make(map[string]Entry)
	}
	db.keys[e.Keyword] = e
}

// Get returns the entry for a keyword
func (db *DB) Get(keyword string) (Entry, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.keys[normalize(keyword)]
	return e, ok
}

// Delete removes a keyword.  It is not an error if the keyword is missing.
func (db *DB) Delete(keyword string) {
	keyword = normalize(keyword)
	db.mu.Lock()
	_, ok := db.keys[keyword]
	delete(db.keys, keyword)
	db.mu.Unlock()
	if ok {
		db.logf("fitskeys.Delete: keyword %s erased", keyword)
	}
}

// Erase empties the database
func (db *DB) Erase() {
	db.mu.Lock()
	db.keys = make(map[string]Entry)
	db.mu.Unlock()
}

// Len is the number of keywords
func (db *DB) Len() int {
	if db == nil {
		return 0
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.keys)
}

// Entries returns a copy of the database sorted by keyword.
// A nil database has no entries.
func (db *DB) Entries() []Entry {
	if db == nil {
		return nil
	}
	db.mu.RLock()
	out := make([]Entry, 0, len(db.keys))
	for _, e := range db.keys {
		out = append(out, e)
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out
}

// Find returns the entries whose keyword starts with prefix
func (db *DB) Find(prefix string) []Entry {
	var out []Entry
	for _, e := range db.Entries() {
		if strings.HasPrefix(e.Keyword, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// ErasePrefix removes every keyword starting with prefix and returns how many were removed
func (db *DB) ErasePrefix(prefix string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for k := range db.keys {
		if strings.HasPrefix(k, prefix) {
			delete(db.keys, k)
			n++
		}
	}
	return n
}

// List returns one formatted line per keyword, sorted
func (db *DB) List() []string {
	entries := db.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

// Merge copies every entry of other into db, replacing existing keywords
func (db *DB) Merge(other *DB) {
	for _, e := range other.Entries() {
		db.put(e)
	}
}

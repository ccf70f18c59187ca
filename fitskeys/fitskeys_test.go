package fitskeys_test

import (
	"fmt"
	"io/ioutil"
	"log"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/camerad/fitskeys"
)

func quiet() *fitskeys.DB {
	db := fitskeys.New()
	db.Logger = log.New(ioutil.Discard, "", 0)
	return db
}

func ExampleKeyType() {
	for _, v := range []string{"T", "123", "-12.5", "12.3.4", "3 apples"} {
		fmt.Println(v, fitskeys.KeyType(v))
	}
	// Output:
	// T BOOL
	// 123 INT
	// -12.5 DOUBLE
	// 12.3.4 STRING
	// 3 apples STRING
}

func TestKeyType(t *testing.T) {
	cases := []struct {
		in   string
		want fitskeys.Type
	}{
		{"T", fitskeys.Bool},
		{"F", fitskeys.Bool},
		{"t", fitskeys.String},
		{"TRUE", fitskeys.String},
		{"", fitskeys.String},
		{"  ", fitskeys.String},
		{"123", fitskeys.Int},
		{"+123", fitskeys.Int},
		{"-7", fitskeys.Int},
		{"  42  ", fitskeys.Int},
		{"12.3", fitskeys.Double},
		{"-0.5", fitskeys.Double},
		{".5", fitskeys.Double},
		{"12.", fitskeys.Double},
		{"12.3.4", fitskeys.String},
		{"abc", fitskeys.String},
		{".", fitskeys.String},
		{"-", fitskeys.String},
		{"12abc", fitskeys.String},
		{"1e5", fitskeys.String},
		{"3.14f", fitskeys.String},
		{"99999999999999999999", fitskeys.String},
		{"9223372036854775807", fitskeys.Int},
	}
	for _, c := range cases {
		if got := fitskeys.KeyType(c.in); got != c.want {
			t.Errorf("KeyType(%q) = %s, expected %s", c.in, got, c.want)
		}
	}
}

func TestAddParsesKeywordValueComment(t *testing.T) {
	db := quiet()
	if err := db.Add("exptime = 12.5 // exposure time in s"); err != nil {
		t.Fatal(err)
	}
	e, ok := db.Get("EXPTIME")
	if !ok {
		t.Fatal("EXPTIME missing after Add")
	}
	want := fitskeys.Entry{Keyword: "EXPTIME", Type: fitskeys.Double, Value: "12.5", Comment: "exposure time in s"}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestAddTruncatesAndUppercases(t *testing.T) {
	db := quiet()
	if err := db.Add("observername=Hale"); err != nil {
		t.Fatal(err)
	}
	if _, ok := db.Get("OBSERVER"); !ok {
		t.Errorf("expected keyword truncated to OBSERVER, have %v", db.List())
	}
}

func TestAddRejectsMalformed(t *testing.T) {
	db := quiet()
	for _, arg := range []string{"NOEQUALS", "A=B=C"} {
		if err := db.Add(arg); err != fitskeys.ErrMalformed {
			t.Errorf("Add(%q) = %v, expected ErrMalformed", arg, err)
		}
	}
	if err := db.Add("KEY=1//one//two"); err != fitskeys.ErrComment {
		t.Errorf("expected ErrComment, got %v", err)
	}
	if err := db.Add(" =1"); err != fitskeys.ErrEmptyKeyword {
		t.Errorf("expected ErrEmptyKeyword, got %v", err)
	}
	if db.Len() != 0 {
		t.Errorf("rejected adds left %d keys behind", db.Len())
	}
}

func TestAddPeriodDeletes(t *testing.T) {
	db := quiet()
	db.Add("FILTER=R")
	db.Add("FILTER=.")
	if _, ok := db.Get("FILTER"); ok {
		t.Error("FILTER still present after FILTER=.")
	}
}

func TestAddKeyTypes(t *testing.T) {
	db := quiet()
	db.AddKey("SHUTTER", true, "")
	db.AddKey("NFRAMES", 5, "")
	db.AddKey("GAIN", 1.5, "")
	db.AddKey("OBJECT", "M31", "")
	want := map[string]fitskeys.Entry{
		"SHUTTER": {Keyword: "SHUTTER", Type: fitskeys.Bool, Value: "T"},
		"NFRAMES": {Keyword: "NFRAMES", Type: fitskeys.Int, Value: "5"},
		"GAIN":    {Keyword: "GAIN", Type: fitskeys.Double, Value: "1.50000000"},
		"OBJECT":  {Keyword: "OBJECT", Type: fitskeys.String, Value: "M31"},
	}
	for k, w := range want {
		got, _ := db.Get(k)
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", k, diff)
		}
	}
}

func TestEntriesSorted(t *testing.T) {
	db := quiet()
	db.Add("ZETA=1")
	db.Add("ALPHA=2")
	db.Add("MU=3")
	var names []string
	for _, e := range db.Entries() {
		names = append(names, e.Keyword)
	}
	if diff := cmp.Diff([]string{"ALPHA", "MU", "ZETA"}, names); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestPrefixOps(t *testing.T) {
	db := quiet()
	db.Add("AMP1=1")
	db.Add("AMP2=2")
	db.Add("GAIN=3")
	if n := len(db.Find("AMP")); n != 2 {
		t.Errorf("Find(AMP) found %d, expected 2", n)
	}
	if n := db.ErasePrefix("AMP"); n != 2 {
		t.Errorf("ErasePrefix(AMP) removed %d, expected 2", n)
	}
	if db.Len() != 1 {
		t.Errorf("expected 1 key left, have %d", db.Len())
	}
	db.Delete("gain")
	if db.Len() != 0 {
		t.Errorf("expected empty db after Delete, have %v", db.List())
	}
}

func TestCardDemotesBadValues(t *testing.T) {
	e := fitskeys.Entry{Keyword: "BAD", Type: fitskeys.Int, Value: "12x"}
	c, demoted := e.Card()
	if !demoted {
		t.Error("expected demotion of unparseable INT")
	}
	if s, ok := c.Value.(string); !ok || s != "12x" {
		t.Errorf("demoted card value = %#v, expected the raw string", c.Value)
	}

	e = fitskeys.Entry{Keyword: "GOOD", Type: fitskeys.Double, Value: "2.5"}
	c, demoted = e.Card()
	if demoted || c.Value != 2.5 {
		t.Errorf("DOUBLE card = %#v demoted=%v", c.Value, demoted)
	}
}

func TestValidKeyword(t *testing.T) {
	for _, k := range []string{"DATE-OBS", "AMPSEC", "X_1"} {
		if err := fitskeys.ValidKeyword(k); err != nil {
			t.Errorf("ValidKeyword(%q) = %v", k, err)
		}
	}
	for _, k := range []string{"", "lower", "TOOLONGKEY", "A B"} {
		if err := fitskeys.ValidKeyword(k); err == nil {
			t.Errorf("ValidKeyword(%q) accepted an illegal keyword", k)
		}
	}
}

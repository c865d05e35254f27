package rpc

import (
	"testing"

	"github.com/kagami-chain/kagami/wsv"
)

func TestSliceDefaultsToWholeSet(t *testing.T) {
	start, end := Slice(5, wsv.Page{})
	if start != 0 || end != 5 {
		t.Fatalf("expected [0,5), got [%d,%d)", start, end)
	}
}

func TestSliceWindow(t *testing.T) {
	cases := []struct {
		total      int
		page       wsv.Page
		start, end int
	}{
		{5, wsv.Page{Start: 2, Limit: 2}, 2, 4},
		{5, wsv.Page{Start: 4, Limit: 10}, 4, 5},
		{5, wsv.Page{Start: 9, Limit: 1}, 5, 5},
		{0, wsv.Page{Start: 1, Limit: 1}, 0, 0},
	}
	for _, c := range cases {
		start, end := Slice(c.total, c.page)
		if start != c.start || end != c.end {
			t.Fatalf("Slice(%d, %+v): expected [%d,%d), got [%d,%d)", c.total, c.page, c.start, c.end, start, end)
		}
	}
}

func metaItem(key, val string) wsv.Value {
	m := wsv.NewMetadata()
	m = m.Set(key, wsv.StringValue(val))
	return wsv.MetadataValue(m)
}

func TestSortByMetadataKeyAbsentAfterPresent(t *testing.T) {
	items := []wsv.Value{
		wsv.StringValue("no-metadata-1"),
		metaItem("rank", "b"),
		wsv.StringValue("no-metadata-2"),
		metaItem("rank", "a"),
	}
	SortByMetadataKey(items, "rank")

	if items[0].Kind != wsv.ValueMetadata || items[1].Kind != wsv.ValueMetadata {
		t.Fatal("items carrying the key must sort first")
	}
	first, _ := items[0].Metadata.Get("rank")
	second, _ := items[1].Metadata.Get("rank")
	fs, _ := first.AsStringRaw()
	ss, _ := second.AsStringRaw()
	if fs != "a" || ss != "b" {
		t.Fatalf("expected a,b order, got %s,%s", fs, ss)
	}
	// Absent items keep their relative order (stable sort).
	s2, _ := items[2].AsStringRaw()
	s3, _ := items[3].AsStringRaw()
	if s2 != "no-metadata-1" || s3 != "no-metadata-2" {
		t.Fatalf("absent items reordered: %s, %s", s2, s3)
	}
}

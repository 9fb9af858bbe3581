package objectstore

import (
	"context"
	"errors"
	"testing"
)

func TestParseRef(t *testing.T) {
	bucket, key, err := ParseRef("lookout-captures/captures/summit/2026/03/01/abc.jpg")
	if err != nil {
		t.Fatalf("ParseRef() err=%v", err)
	}
	if bucket != "lookout-captures" || key != "captures/summit/2026/03/01/abc.jpg" {
		t.Fatalf("bucket=%q key=%q", bucket, key)
	}
	for _, bad := range []string{"", "nobucket", "/key", "bucket/"} {
		if _, _, err := ParseRef(bad); err == nil {
			t.Fatalf("ParseRef(%q) expected error", bad)
		}
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore("caps")
	ref, err := store.Put(context.Background(), "captures/a.jpg", []byte{1, 2, 3}, "image/jpeg")
	if err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if ref != "caps/captures/a.jpg" {
		t.Fatalf("ref=%q", ref)
	}
	data, info, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if len(data) != 3 || info.ContentType != "image/jpeg" || info.Size != 3 {
		t.Fatalf("data=%v info=%+v", data, info)
	}
	if _, _, err := store.Get(context.Background(), "caps/missing.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err=%v, want ErrObjectNotFound", err)
	}
}

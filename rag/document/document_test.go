package document

import "testing"

func TestContentHashIsStable(t *testing.T) {
	if ContentHash("Prague") != ContentHash("Prague") {
		t.Fatalf("hash must be deterministic")
	}
	if ContentHash("Prague") == ContentHash("prague") {
		t.Fatalf("hash must be case sensitive")
	}
	if got := ContentHash(""); got != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("unexpected md5 of empty string %s", got)
	}
}

func TestEnsureDocumentID(t *testing.T) {
	doc := Document{}
	EnsureDocumentID(&doc)
	if doc.ID == "" {
		t.Fatalf("expected generated id")
	}
	named := Document{ID: "book"}
	EnsureDocumentID(&named)
	if named.ID != "book" {
		t.Fatalf("existing id must be kept")
	}
}

func TestCloneDoesNotShareMetadata(t *testing.T) {
	c := Chunk{Metadata: map[string]any{"title": "a"}}
	cp := c.Clone()
	cp.Metadata["title"] = "b"
	if c.Metadata["title"] != "a" {
		t.Fatalf("clone shares metadata")
	}
}

package types

import (
	"encoding/json"
	"testing"
)

func TestFileStat_JSON(t *testing.T) {
	data, err := json.Marshal(DirEntry{Name: "a", Kind: KindDirectory})
	if err != nil {
		t.Fatalf("Failed to marshal entry: %v", err)
	}
	if string(data) != `{"name":"a","kind":"directory"}` {
		t.Errorf("Unexpected JSON %s", data)
	}

	var entry DirEntry
	if err := json.Unmarshal([]byte(`{"name":"b.txt","kind":"file"}`), &entry); err != nil {
		t.Fatalf("Failed to unmarshal entry: %v", err)
	}
	if entry.Kind != KindFile {
		t.Errorf("Expected file kind, got %s", entry.Kind)
	}

	if err := json.Unmarshal([]byte(`{"kind":"symlink"}`), &entry); err == nil {
		t.Error("Expected an error for an unknown kind")
	}
}

func TestChangeEvent_JSON(t *testing.T) {
	in := ChangeEvent{Type: Deleted, Address: "file:///x.jar!"}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var out ChangeEvent
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	if out != in {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
}

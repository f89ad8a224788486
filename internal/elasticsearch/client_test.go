package elasticsearch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/souravs72/broadflix/internal/catalog"
	"github.com/souravs72/broadflix/internal/models"
)

func TestBuildScanQuery(t *testing.T) {
	first := buildScanQuery(50, "")
	if first["size"] != 50 {
		t.Errorf("size = %v, want 50", first["size"])
	}
	if _, ok := first["search_after"]; ok {
		t.Error("first page should not carry search_after")
	}

	next := buildScanQuery(50, "42")
	after, ok := next["search_after"].([]any)
	if !ok || len(after) != 1 || after[0] != "42" {
		t.Errorf("search_after = %v, want [42]", next["search_after"])
	}
}

func TestDecodeScanPage(t *testing.T) {
	body := `{
		"took": 3,
		"hits": {"hits": [
			{"_id": "1", "_source": {"title": "Inception", "type": "Movie", "quality": "4k", "critic_score": 8.8}, "sort": ["1"]},
			{"_id": "2", "_source": {"id": "2", "title": "Dark", "type": "Series", "quality": "HD"}, "sort": ["2"]}
		]}
	}`

	page, err := decodeScanPage(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decodeScanPage: %v", err)
	}
	if len(page.records) != 2 {
		t.Fatalf("records = %d, want 2", len(page.records))
	}
	if page.records[0].ID != "1" {
		t.Errorf("id from _id = %q, want 1", page.records[0].ID)
	}
	if page.records[0].Type != catalog.TypeMovie || page.records[0].Quality != catalog.Quality4K {
		t.Errorf("record not normalized: %+v", page.records[0])
	}
	if page.lastSort != "2" {
		t.Errorf("lastSort = %q, want 2", page.lastSort)
	}
}

func TestDecodeScanPage_Malformed(t *testing.T) {
	if _, err := decodeScanPage(strings.NewReader("{")); err == nil {
		t.Error("expected decode error")
	}
}

func TestEncodeBulk(t *testing.T) {
	actions := []models.IndexAction{
		{Action: "index", ID: "1", Body: &catalog.Record{ID: "1", Title: "Inception"}},
		{Action: "delete", Index: "archive", ID: "2"},
	}

	body, err := encodeBulk(actions, "catalog")
	if err != nil {
		t.Fatalf("encodeBulk: %v", err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3 (meta+body, meta)", len(lines))
	}

	var meta map[string]map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &meta); err != nil {
		t.Fatalf("meta line: %v", err)
	}
	if meta["index"]["_index"] != "catalog" || meta["index"]["_id"] != "1" {
		t.Errorf("index meta = %v", meta)
	}

	meta = nil
	if err := json.Unmarshal([]byte(lines[2]), &meta); err != nil {
		t.Fatalf("delete meta line: %v", err)
	}
	if meta["delete"]["_index"] != "archive" {
		t.Errorf("delete meta = %v, want explicit index kept", meta)
	}
}

func TestBulkResponseErr(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"clean", `{"errors": false, "items": []}`, false},
		{"missing delete", `{"errors": true, "items": [{"delete": {"_id": "9", "status": 404, "error": {"type": "not_found", "reason": "gone"}}}]}`, false},
		{"mapping failure", `{"errors": true, "items": [{"index": {"_id": "3", "status": 400, "error": {"type": "mapper_parsing_exception", "reason": "bad year"}}}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp bulkResponse
			if err := json.Unmarshal([]byte(tt.body), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			err := resp.err()
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

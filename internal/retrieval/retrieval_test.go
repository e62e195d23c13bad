package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBm25ConfigValidateClamps(t *testing.T) {
	cfg := Bm25Config{K1: -1, B: 1.5}
	cfg.Validate(nil)
	if cfg.K1 != 1.2 {
		t.Fatalf("negative k1 should reset to default, got %v", cfg.K1)
	}
	if cfg.B != 1.0 {
		t.Fatalf("b>1 should clamp to 1, got %v", cfg.B)
	}

	cfg2 := Bm25Config{K1: 15, B: -0.5}
	cfg2.Validate(nil)
	if cfg2.K1 != 10 {
		t.Fatalf("k1>10 should cap at 10, got %v", cfg2.K1)
	}
	if cfg2.B != 0 {
		t.Fatalf("negative b should clamp to 0, got %v", cfg2.B)
	}
}

func TestFromBotConfigParsesKnownKeys(t *testing.T) {
	rows := map[string]string{
		"bm25-enabled":  "false",
		"bm25-k1":       "1.5",
		"bm25-b":        "0.5",
		"bm25-stemming": "false",
	}
	cfg := FromBotConfig(rows, nil)
	if cfg.Enabled {
		t.Fatal("expected bm25 disabled")
	}
	if cfg.K1 != 1.5 || cfg.B != 0.5 {
		t.Fatalf("got k1=%v b=%v", cfg.K1, cfg.B)
	}
	if cfg.Stemming {
		t.Fatal("expected stemming disabled")
	}
	if !cfg.Stopwords {
		t.Fatal("stopwords should default to true when key absent")
	}
}

func TestIsStopword(t *testing.T) {
	if !IsStopword("the") || !IsStopword("THE") {
		t.Fatal("'the' should be a stopword regardless of case")
	}
	if IsStopword("tantivy") {
		t.Fatal("'tantivy' should not be a stopword")
	}
}

func TestSparseIndexSearchRanksByRelevance(t *testing.T) {
	idx := NewSparseIndex(DefaultBm25Config())
	idx.Index(Document{ID: "doc1", Text: "the quick brown fox jumps over the lazy dog"})
	idx.Index(Document{ID: "doc2", Text: "foxes are wild animals found in many countries"})
	idx.Index(Document{ID: "doc3", Text: "completely unrelated content about weather patterns"})

	results := idx.Search("fox", 10)
	if len(results) == 0 {
		t.Fatal("expected at least one result for 'fox'")
	}
	if results[0].DocumentID != "doc1" && results[0].DocumentID != "doc2" {
		t.Fatalf("expected doc1 or doc2 to rank first, got %s", results[0].DocumentID)
	}
	for _, r := range results {
		if r.DocumentID == "doc3" {
			t.Fatal("doc3 has no overlap with the query and should not score")
		}
	}
}

func TestSparseIndexDisabledReturnsNil(t *testing.T) {
	idx := NewSparseIndex(DisabledBm25Config())
	idx.Index(Document{ID: "doc1", Text: "hello world"})
	if r := idx.Search("hello", 10); r != nil {
		t.Fatalf("disabled index should return nil, got %v", r)
	}
}

func TestFuseReciprocalRankFusion(t *testing.T) {
	sparse := []ScoredResult{{DocumentID: "a", Rank: 1}, {DocumentID: "b", Rank: 2}}
	dense := []ScoredResult{{DocumentID: "b", Rank: 1}, {DocumentID: "c", Rank: 2}}

	fused := Fuse(60, 10, sparse, dense)
	if len(fused) != 3 {
		t.Fatalf("expected 3 distinct documents, got %d", len(fused))
	}
	// "b" appears in both lists (rank 2 and rank 1) so it should score highest.
	if fused[0].DocumentID != "b" {
		t.Fatalf("expected 'b' to rank first after fusion, got %s", fused[0].DocumentID)
	}
}

func TestDenseRetrieverSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/kb/points/search" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"id": "doc-1", "score": 0.95},
				{"id": "doc-2", "score": 0.80},
			},
		})
	}))
	defer srv.Close()

	retriever := NewDenseRetriever(srv.URL, "kb", "", srv.Client())
	results, err := retriever.Search(context.Background(), []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].DocumentID != "doc-1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestHybridSearcherFallsBackToDenseWhenSparseDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{{"id": "dense-only", "score": 0.5}},
		})
	}))
	defer srv.Close()

	searcher := &HybridSearcher{
		Sparse: NewSparseIndex(DisabledBm25Config()),
		Dense:  NewDenseRetriever(srv.URL, "kb", "", srv.Client()),
	}
	results, err := searcher.Search(context.Background(), SparseQuery{Text: "anything", Vector: []float32{0.1}, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocumentID != "dense-only" {
		t.Fatalf("expected dense-only fallback, got %+v", results)
	}
}

package retrieval

import (
	"math"
	"sort"
	"sync"
)

// Document is one indexed knowledge-base chunk or crawled page.
type Document struct {
	ID      string
	Text    string
	Vector  []float32 // optional: pre-computed embedding, for the dense index
}

// ScoredResult is one ranked hit from either retriever, or from RRF fusion.
type ScoredResult struct {
	DocumentID string
	Score      float64
	Rank       int
}

// SparseIndex is an in-memory BM25 inverted index, one per bot, scored
// with the standard BM25 formula driven by the per-bot k1/b parameters.
type SparseIndex struct {
	cfg Bm25Config

	mu        sync.RWMutex
	postings  map[string]map[string]int // term -> docID -> term frequency
	docLens   map[string]int
	totalLen  int
	docCount  int
}

func NewSparseIndex(cfg Bm25Config) *SparseIndex {
	return &SparseIndex{
		cfg:      cfg,
		postings: make(map[string]map[string]int),
		docLens:  make(map[string]int),
	}
}

// Index adds or replaces a document's terms in the inverted index.
func (s *SparseIndex) Index(doc Document) {
	terms := Tokenize(doc.Text, s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldLen, existed := s.docLens[doc.ID]; existed {
		s.totalLen -= oldLen
		s.docCount--
		for term, postings := range s.postings {
			delete(postings, doc.ID)
			if len(postings) == 0 {
				delete(s.postings, term)
			}
		}
	}

	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}
	for term, f := range freq {
		if s.postings[term] == nil {
			s.postings[term] = make(map[string]int)
		}
		s.postings[term][doc.ID] = f
	}
	s.docLens[doc.ID] = len(terms)
	s.totalLen += len(terms)
	s.docCount++
}

func (s *SparseIndex) Remove(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oldLen, existed := s.docLens[docID]; existed {
		s.totalLen -= oldLen
		s.docCount--
		delete(s.docLens, docID)
	}
	for term, postings := range s.postings {
		delete(postings, docID)
		if len(postings) == 0 {
			delete(s.postings, term)
		}
	}
}

// Search runs BM25 scoring for query over the index, returning the top
// limit results ranked descending by score.
func (s *SparseIndex) Search(query string, limit int) []ScoredResult {
	if !s.cfg.Enabled {
		return nil
	}
	terms := Tokenize(query, s.cfg)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.docCount == 0 {
		return nil
	}
	avgLen := float64(s.totalLen) / float64(s.docCount)

	scores := make(map[string]float64)
	for _, term := range terms {
		postings, ok := s.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(s.docCount)-float64(len(postings))+0.5)/(float64(len(postings))+0.5))
		for docID, tf := range postings {
			dl := float64(s.docLens[docID])
			k1 := float64(s.cfg.K1)
			b := float64(s.cfg.B)
			denom := float64(tf) + k1*(1-b+b*dl/avgLen)
			scores[docID] += idf * (float64(tf) * (k1 + 1) / denom)
		}
	}

	results := make([]ScoredResult, 0, len(scores))
	for docID, score := range scores {
		results = append(results, ScoredResult{DocumentID: docID, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

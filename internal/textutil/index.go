package textutil

import "math"

// TitleIndex holds titles and finds the closest one to a candidate.
// It is not safe for concurrent use.
type TitleIndex struct {
	titles  []string
	prints  []*Fingerprint
	docFreq map[string]int
}

// NewTitleIndex indexes titles. Titles without usable tokens are skipped.
func NewTitleIndex(titles ...string) *TitleIndex {
	idx := &TitleIndex{docFreq: make(map[string]int)}
	for _, title := range titles {
		idx.Add(title)
	}
	return idx
}

// Add indexes one more title.
func (idx *TitleIndex) Add(title string) {
	fp := NewFingerprint(title)
	if fp == nil {
		return
	}
	idx.titles = append(idx.titles, title)
	idx.prints = append(idx.prints, fp)
	for term := range fp.terms {
		idx.docFreq[term]++
	}
}

// Len reports how many titles are indexed.
func (idx *TitleIndex) Len() int {
	return len(idx.titles)
}

// Closest returns the indexed title most similar to title and its score.
// With an empty index it returns "", 0.
func (idx *TitleIndex) Closest(title string) (string, float64) {
	candidate := NewFingerprint(title)
	if candidate == nil || len(idx.prints) == 0 {
		return "", 0
	}
	idf := idx.idf()
	weighted := candidate.weighted(idf)
	var (
		best      string
		bestScore float64
	)
	for i, fp := range idx.prints {
		score := Similarity(weighted, fp.weighted(idf))
		if score > bestScore {
			best, bestScore = idx.titles[i], score
		}
	}
	return best, bestScore
}

// idf computes smoothed inverse document frequencies, log((N+1)/df) + 1,
// so a term shared by every title still keeps a small positive weight.
func (idx *TitleIndex) idf() map[string]float64 {
	n := float64(len(idx.prints))
	weights := make(map[string]float64, len(idx.docFreq))
	for term, df := range idx.docFreq {
		weights[term] = math.Log((n+1)/float64(df)) + 1
	}
	return weights
}

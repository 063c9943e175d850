package dedup

import "math"

// Cosine is the TF-IDF weighted cosine similarity of two texts, with the pair itself as the corpus.
// IDF is smoothed so terms shared by both documents keep a positive weight.
func Cosine(a, b string) float64 {
	ta, tb := termFreq(Tokenize(a)), termFreq(Tokenize(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	idf := func(term string) float64 {
		df := 0
		if _, ok := ta[term]; ok {
			df++
		}
		if _, ok := tb[term]; ok {
			df++
		}
		return math.Log(3/float64(1+df)) + 1
	}

	var dot, normA, normB float64
	for term, fa := range ta {
		w := fa * idf(term)
		normA += w * w
		if fb, ok := tb[term]; ok {
			dot += w * fb * idf(term)
		}
	}
	for term, fb := range tb {
		w := fb * idf(term)
		normB += w * w
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termFreq(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	n := float64(len(tokens))
	for t := range tf {
		tf[t] /= n
	}
	return tf
}

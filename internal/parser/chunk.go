package parser

// ChunkText splits content into chunks of at most maxChars runes. Consecutive chunks
// share exactly overlapChars runes; the final chunk may be shorter than maxChars.
// Content is not trimmed, so Reassemble(ChunkText(s, n, o), o) == s.
func ChunkText(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 || content == "" {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars - 1
	}

	runes := []rune(content)
	if len(runes) <= maxChars {
		return []string{content}
	}

	step := maxChars - overlapChars
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+maxChars, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Reassemble rebuilds the original content by dropping the shared prefix of every chunk
// after the first.
func Reassemble(chunks []string, overlapChars int) string {
	var out []rune
	for i, chunk := range chunks {
		r := []rune(chunk)
		if i > 0 {
			r = r[min(overlapChars, len(r)):]
		}
		out = append(out, r...)
	}
	return string(out)
}

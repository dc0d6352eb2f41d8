package wal

// maxLumpedGap is the largest run of identical bytes that DiffSegments
// will still lump into a surrounding segment rather than splitting,
// trading a few redundant logged bytes for fewer, cheaper segments
// (spec.md §4.8).
const maxLumpedGap = 4

// DiffSegments compares old and new page images of equal length and
// returns the minimal set of changed-byte segments between them, each
// carrying both images' bytes over that range.
func DiffSegments(old, next []byte) []Segment {
	var segments []Segment
	i := 0
	for i < len(old) {
		if old[i] == next[i] {
			i++
			continue
		}

		start := i
		end := i + 1
		for end < len(old) {
			if old[end] != next[end] {
				end++
				continue
			}
			// Look ahead past a short run of identical bytes for another
			// difference close enough to lump into this segment.
			gapEnd := end
			for gapEnd < len(old) && gapEnd-end < maxLumpedGap && old[gapEnd] == next[gapEnd] {
				gapEnd++
			}
			if gapEnd < len(old) && old[gapEnd] != next[gapEnd] {
				end = gapEnd + 1
				continue
			}
			break
		}

		segments = append(segments, Segment{
			Start: start,
			Undo:  append([]byte(nil), old[start:end]...),
			Redo:  append([]byte(nil), next[start:end]...),
		})
		i = end
	}
	return segments
}

package sync

import "sort"

// diffUIDs returns the members of a that are not in b, ascending.
func diffUIDs(a, b []uint32) []uint32 {
	inB := make(map[uint32]bool, len(b))
	for _, uid := range b {
		inB[uid] = true
	}
	var out []uint32
	for _, uid := range a {
		if !inB[uid] {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// intersectUIDs returns the members present in both a and b, ascending.
func intersectUIDs(a, b []uint32) []uint32 {
	inB := make(map[uint32]bool, len(b))
	for _, uid := range b {
		inB[uid] = true
	}
	var out []uint32
	for _, uid := range a {
		if inB[uid] {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// chunkUIDs splits uids into consecutive chunks of at most size elements.
func chunkUIDs(uids []uint32, size int) [][]uint32 {
	if size <= 0 {
		size = 100
	}
	var chunks [][]uint32
	for i := 0; i < len(uids); i += size {
		end := i + size
		if end > len(uids) {
			end = len(uids)
		}
		chunks = append(chunks, uids[i:end])
	}
	return chunks
}

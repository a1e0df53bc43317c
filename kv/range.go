package kv

// PrefixRangeEnd computes the end key of a prefix range: increment the
// least-significant byte that is below 0xFF and truncate everything
// after it. An empty prefix, or one made entirely of 0xFF bytes, has no
// finite end and maps to the single byte 0x00, which combined with a
// 0x00 start covers the full keyspace.
func PrefixRangeEnd(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] < 0xff {
			end := make([]byte, i+1)
			copy(end, prefix[:i+1])
			end[i]++
			return end
		}
	}
	return []byte{0x00}
}

package weather

// MergeRecords concatenates record sets in the given order and de-duplicates
// on (location, date). The record seen last wins; it takes the position of
// the first occurrence. The second return value is the number of
// duplicates replaced.
func MergeRecords(sets ...[]WeatherRecord) (Dataset, int) {
	total := 0
	for _, s := range sets {
		total += len(s)
	}

	merged := make(Dataset, 0, total)
	index := make(map[RecordKey]int, total)
	duplicates := 0

	for _, s := range sets {
		for _, r := range s {
			key := r.Key()
			if i, ok := index[key]; ok {
				merged[i] = r
				duplicates++
				continue
			}
			index[key] = len(merged)
			merged = append(merged, r)
		}
	}

	return merged, duplicates
}

package export

// Dataset defines tabular export content keyed by header.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Record returns row values in header order.
func (d Dataset) Record(row map[string]string) []string {
	record := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		record[i] = row[header]
	}
	return record
}

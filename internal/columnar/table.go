package columnar

// Record is one row keyed by column name. A missing key is NULL.
type Record map[string]string

// Table is an ordered set of columns plus the records that populate them.
type Table struct {
	Columns []string
	Records []Record
}

// NumRows reports the number of records.
func (t Table) NumRows() int {
	return len(t.Records)
}

// HasColumn reports whether name is part of the table's column list.
func (t Table) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// UnionColumns returns base followed by every column from extra that base
// does not already contain, preserving first-seen order.
func UnionColumns(base []string, extra ...[]string) []string {
	seen := make(map[string]struct{}, len(base))
	out := make([]string, 0, len(base))
	for _, col := range base {
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	for _, cols := range extra {
		for _, col := range cols {
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			out = append(out, col)
		}
	}
	return out
}

// Clone returns a shallow copy of r with its own map.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

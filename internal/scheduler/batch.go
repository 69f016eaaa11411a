package scheduler

import (
	"sort"
	"strconv"
	"strings"
)

// Batch maps an event label to the number of times it was seen since the
// last flush. A present label always has a count >= 1.
type Batch map[string]int

func (b Batch) Add(label string) { b[label]++ }

// Labels returns the distinct labels in lexicographic order.
func (b Batch) Labels() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Total returns the number of events in the batch.
func (b Batch) Total() int {
	n := 0
	for _, c := range b {
		n += c
	}
	return n
}

// Merge adds every count of o into b.
func (b Batch) Merge(o Batch) {
	for k, c := range o {
		b[k] += c
	}
}

// Format renders the batch as notification text.
//
// Labels are sorted and joined with ", ". Counts are shown only when some
// label repeated, and then for every label ("a:1, b:3"), never a mix.
func (b Batch) Format() string {
	labels := b.Labels()
	withCounts := false
	for _, c := range b {
		if c > 1 {
			withCounts = true
			break
		}
	}

	var sb strings.Builder
	for i, l := range labels {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(l)
		if withCounts {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(b[l]))
		}
	}
	return sb.String()
}

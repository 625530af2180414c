package utils

// Distance returns the Levenshtein edit distance between a and b with unit
// cost for insertion, deletion and substitution. Plates are short, so the
// rolling single-row variant keeps allocation at O(min(len(a), len(b))).
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}

	for i, ca := range ra {
		prev := row[0]
		row[0] = i + 1
		for j, cb := range rb {
			cost := 0
			if ca != cb {
				cost = 1
			}
			cur := min3(row[j+1]+1, row[j]+1, prev+cost)
			prev = row[j+1]
			row[j+1] = cur
		}
	}
	return row[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

package round

// mulberry32 is a 32-bit mixing generator. Its output depends only on the
// seed, so the same seed yields the same sequence on every platform.
type mulberry32 struct{ state uint32 }

func (m *mulberry32) next() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// intn returns a value in [0, n) scaled from the 32-bit output.
func (m *mulberry32) intn(n int) int {
	return int(uint64(m.next()) * uint64(n) >> 32)
}

// GenerateShuffle returns a permutation of [0, n) fixed by seed.
func GenerateShuffle(seed uint32, n int) []int {
	if n <= 0 {
		return []int{}
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng := &mulberry32{state: seed}
	for i := n - 1; i > 0; i-- {
		j := rng.intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Submitters lists the players holding a prompt, in round order. Slot i of
// the voting list shows the prompt of Submitters(...)[shuffleOrder[i]].
func Submitters(players []string, prompts map[string]string) []string {
	out := make([]string, 0, len(prompts))
	for _, p := range players {
		if _, ok := prompts[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// IsPermutation reports whether order holds every index in [0, n) exactly once.
func IsPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range order {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

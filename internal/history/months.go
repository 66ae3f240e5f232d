package history

// MonthLayout — формат ключа месяца, "2024-03".
const MonthLayout = "2006-01"

type MonthCount struct {
	Month string
	Count int
}

// MonthlyCounts упорядочены по месяцу от раннего к позднему.
type MonthlyCounts []MonthCount

func (m MonthlyCounts) AsMap() map[string]int {
	out := make(map[string]int, len(m))
	for _, c := range m {
		out[c.Month] = c.Count
	}
	return out
}

// Lowest — месяц с наименьшим числом запросов; при равенстве побеждает
// более ранний месяц.
func (m MonthlyCounts) Lowest() (MonthCount, bool) {
	return m.pick(func(candidate, best int) bool { return candidate < best })
}

// Highest — месяц с наибольшим числом запросов; при равенстве побеждает
// более ранний месяц.
func (m MonthlyCounts) Highest() (MonthCount, bool) {
	return m.pick(func(candidate, best int) bool { return candidate > best })
}

func (m MonthlyCounts) pick(better func(candidate, best int) bool) (MonthCount, bool) {
	if len(m) == 0 {
		return MonthCount{}, false
	}
	best := m[0]
	for _, c := range m[1:] {
		if better(c.Count, best.Count) {
			best = c
		}
	}
	return best, true
}

package metadata

// Pair is a single catalog attribute.
type Pair struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Pairs is a multi-valued name/value mapping. Repeated names are kept as
// separate entries, so a run list is expressed as several "runs" pairs.
type Pairs []Pair

// Add appends a pair.
func (p *Pairs) Add(name, value string) {
	*p = append(*p, Pair{Name: name, Value: value})
}

// AddUnique appends a pair unless an identical pair is already present.
func (p *Pairs) AddUnique(name, value string) bool {
	for _, existing := range *p {
		if existing.Name == name && existing.Value == value {
			return false
		}
	}
	p.Add(name, value)
	return true
}

// Extend appends all pairs from other.
func (p *Pairs) Extend(other Pairs) {
	*p = append(*p, other...)
}

// Values returns every value recorded under name, in insertion order.
func (p Pairs) Values(name string) []string {
	var out []string
	for _, pair := range p {
		if pair.Name == name {
			out = append(out, pair.Value)
		}
	}
	return out
}

// Count returns the number of entries recorded under name.
func (p Pairs) Count(name string) int {
	n := 0
	for _, pair := range p {
		if pair.Name == name {
			n++
		}
	}
	return n
}

func (p Pairs) Clone() Pairs {
	if p == nil {
		return nil
	}
	out := make(Pairs, len(p))
	copy(out, p)
	return out
}

// FromFlat converts a flat [name, value, name, value, ...] list. The list
// length must be even; an odd trailing name is reported by the caller.
func FromFlat(flat []string) Pairs {
	out := make(Pairs, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out.Add(flat[i], flat[i+1])
	}
	return out
}

package snapshot

import "sort"

// TypeStat aggregates the objects of one type.
type TypeStat struct {
	Type  string `cbor:"1,keyasint"`
	Count int    `cbor:"2,keyasint"`
	Bytes uint64 `cbor:"3,keyasint"`
}

// Summary groups objects by type, largest total size first.
func (s *Snapshot) Summary() []TypeStat {
	byType := make(map[string]*TypeStat)
	for _, o := range s.Objects {
		st := byType[o.Type]
		if st == nil {
			st = &TypeStat{Type: o.Type}
			byType[o.Type] = st
		}
		st.Count++
		st.Bytes += o.Size
	}
	out := make([]TypeStat, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Type < out[j].Type
	})
	return out
}

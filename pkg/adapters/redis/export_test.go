package redis

type Span struct {
	Offset int
	Data   []byte
}

func DiffSpans(prev, cur []byte) []Span {
	var out []Span
	for _, s := range diffSpans(prev, cur) {
		out = append(out, Span{Offset: s.offset, Data: s.data})
	}
	return out
}

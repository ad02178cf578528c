package graph

// Compile builds the graph's shared node registry and route table from reg,
// producing one of the two compiled variants the runtime supports: with
// episodic memory attached (reg.Memory != nil) or without. The two variants
// share every node except memory-formation, which becomes a no-op when
// reg.Memory is nil.
func Compile(reg *Registry) (*Graph, error) {
	b := NewBuilder()
	reg.Build(b)
	return b.Build()
}

package wasm

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Exports is a name-keyed export table that remembers declaration order.
// The zero value is empty and ready to use.
type Exports struct {
	index map[string]int
	list  []Export
}

// Add appends an export. It returns false and leaves the table unchanged
// when the name is already taken.
func (e *Exports) Add(exp Export) bool {
	if e.index == nil {
		e.index = make(map[string]int)
	}
	if _, dup := e.index[exp.Name]; dup {
		return false
	}
	e.index[exp.Name] = len(e.list)
	e.list = append(e.list, exp)
	return true
}

// Get looks up an export by name.
func (e *Exports) Get(name string) (Export, bool) {
	i, ok := e.index[name]
	if !ok {
		return Export{}, false
	}
	return e.list[i], true
}

// Len returns the number of exports.
func (e *Exports) Len() int {
	return len(e.list)
}

// List returns the exports in declaration order. The slice must not be modified.
func (e *Exports) List() []Export {
	return e.list
}

// Names returns export names in declaration order.
func (e *Exports) Names() []string {
	names := make([]string, len(e.list))
	for i, exp := range e.list {
		names[i] = exp.Name
	}
	return names
}

// OfKind returns the exports with the given kind, in declaration order.
func (e *Exports) OfKind(kind byte) []Export {
	var out []Export
	for _, exp := range e.list {
		if exp.Kind == kind {
			out = append(out, exp)
		}
	}
	return out
}

// Clone returns an independent copy of the table.
func (e *Exports) Clone() Exports {
	var c Exports
	for _, exp := range e.list {
		c.Add(exp)
	}
	return c
}

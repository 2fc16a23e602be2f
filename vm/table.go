package vm

// ---------------------------------------------------------------------------
// Table: insertion-ordered map with an optional metatable
// ---------------------------------------------------------------------------

// Table is the sole structured data type for objects and dictionaries. Keys
// iterate in insertion order; re-assigning a key keeps its original position.
// A Table may point at a metatable consulted for missing fields and operator
// dispatch.
type Table struct {
	keys []string
	vals map[string]Value
	meta *Table
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{vals: make(map[string]Value)}
}

// Get returns the value stored at key.
func (t *Table) Get(key string) (Value, bool) {
	v, ok := t.vals[key]
	return v, ok
}

// Set stores a value. A new key is appended to the iteration order; an
// existing key keeps its position.
func (t *Table) Set(key string, v Value) {
	if _, ok := t.vals[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.vals[key] = v
}

// Delete removes a key and its iteration slot.
func (t *Table) Delete(key string) {
	if _, ok := t.vals[key]; !ok {
		return
	}
	delete(t.vals, key)
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.keys) }

// Keys returns the keys in insertion order. The slice is a copy.
func (t *Table) Keys() []string {
	ks := make([]string, len(t.keys))
	copy(ks, t.keys)
	return ks
}

// Meta returns the metatable, or nil.
func (t *Table) Meta() *Table { return t.meta }

// SetMeta replaces the metatable. nil removes it. Cycles are permitted; the
// lookup path bounds its own recursion depth.
func (t *Table) SetMeta(m *Table) { t.meta = m }

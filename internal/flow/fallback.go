package flow

import "sort"

// FallbackSpec is one recovery alternative for a combination of failed
// nodes. Exactly one of Nodes or Resolve is meaningful: Resolve marks the
// combination handled with no replacement work.
type FallbackSpec struct {
	Nodes           []string
	Resolve         bool
	Condition       Condition
	ConditionSource string
}

// FallbackTrie indexes fallback specs by sorted tuples of failed node names.
// The root holds no specs; the path A -> B holds specs for failures {A, B}.
type FallbackTrie struct {
	specs []FallbackSpec
	next  map[string]*FallbackTrie
}

// NewFallbackTrie returns an empty trie.
func NewFallbackTrie() *FallbackTrie {
	return &FallbackTrie{next: make(map[string]*FallbackTrie)}
}

// Add registers spec for the given failure combination. Order of names does
// not matter; specs added for the same combination are tried in order.
func (t *FallbackTrie) Add(names []string, spec FallbackSpec) {
	key := normalize(names)
	cur := t
	for _, n := range key {
		child, ok := cur.next[n]
		if !ok {
			child = NewFallbackTrie()
			cur.next[n] = child
		}
		cur = child
	}
	cur.specs = append(cur.specs, spec)
}

// Lookup returns the specs registered for exactly the given sorted names.
func (t *FallbackTrie) Lookup(sortedNames []string) []FallbackSpec {
	if t == nil || len(sortedNames) == 0 {
		return nil
	}
	cur := t
	for _, n := range sortedNames {
		child, ok := cur.next[n]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur.specs
}

// Empty reports whether no fallback has been registered.
func (t *FallbackTrie) Empty() bool {
	return t == nil || len(t.next) == 0
}

// Walk calls fn for every registered combination in lexical order.
func (t *FallbackTrie) Walk(fn func(names []string, specs []FallbackSpec)) {
	if t == nil {
		return
	}
	t.walk(nil, fn)
}

func (t *FallbackTrie) walk(prefix []string, fn func([]string, []FallbackSpec)) {
	if len(t.specs) > 0 {
		fn(append([]string(nil), prefix...), t.specs)
	}
	keys := make([]string, 0, len(t.next))
	for k := range t.next {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.next[k].walk(append(prefix, k), fn)
	}
}

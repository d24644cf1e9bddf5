package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackTrie_LookupIsOrderIndependent(t *testing.T) {
	trie := NewFallbackTrie()
	trie.Add([]string{"B", "A"}, FallbackSpec{Nodes: []string{"Recover"}})
	trie.Add([]string{"A"}, FallbackSpec{Resolve: true})

	specs := trie.Lookup([]string{"A", "B"})
	if assert.Len(t, specs, 1) {
		assert.Equal(t, []string{"Recover"}, specs[0].Nodes)
	}

	specs = trie.Lookup([]string{"A"})
	if assert.Len(t, specs, 1) {
		assert.True(t, specs[0].Resolve)
	}

	assert.Nil(t, trie.Lookup([]string{"B"}))
	assert.Nil(t, trie.Lookup(nil))
}

func TestFallbackTrie_Walk(t *testing.T) {
	trie := NewFallbackTrie()
	trie.Add([]string{"C"}, FallbackSpec{Resolve: true})
	trie.Add([]string{"A", "B"}, FallbackSpec{Resolve: true})

	var got [][]string
	trie.Walk(func(names []string, _ []FallbackSpec) {
		got = append(got, names)
	})
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, got)
	assert.False(t, trie.Empty())

	var empty *FallbackTrie
	assert.True(t, empty.Empty())
}

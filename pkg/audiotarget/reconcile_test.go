package audiotarget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type keyed struct {
	key     string
	version int
}

func keyOf(k *keyed) string {
	return k.key
}

func TestReconcileKeepsExistingElements(t *testing.T) {
	a1, b1, c1 := &keyed{"a", 1}, &keyed{"b", 1}, &keyed{"c", 1}
	current := []*keyed{a1, b1, c1}

	b2, d2 := &keyed{"b", 2}, &keyed{"d", 2}

	var removed, added, discarded []string

	current = reconcile(current, []*keyed{b2, d2}, keyOf, reconcileHooks[*keyed]{
		removed:   func(k *keyed) { removed = append(removed, k.key) },
		added:     func(k *keyed) { added = append(added, k.key) },
		discarded: func(k *keyed) { discarded = append(discarded, k.key) },
	})

	assert.Equal(t, []*keyed{b1, d2}, current)
	assert.Equal(t, []string{"c", "a"}, removed)
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"b"}, discarded)
}

func TestReconcileDeduplicatesSnapshot(t *testing.T) {
	first, dup := &keyed{"a", 1}, &keyed{"a", 2}

	var discarded []*keyed

	current := reconcile(nil, []*keyed{first, dup}, keyOf, reconcileHooks[*keyed]{
		discarded: func(k *keyed) { discarded = append(discarded, k) },
	})

	assert.Equal(t, []*keyed{first}, current)
	assert.Equal(t, []*keyed{dup}, discarded)
}

func TestReconcileEmptySnapshotClears(t *testing.T) {
	current := reconcile([]*keyed{{"a", 1}, {"b", 1}}, nil, keyOf, reconcileHooks[*keyed]{})

	assert.Empty(t, current)
}

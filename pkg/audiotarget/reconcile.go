package audiotarget

// reconcileHooks are called synchronously while a collection is reconciled
type reconcileHooks[T any] struct {
	// removed gets every current element missing from the snapshot, after it left the collection
	removed func(T)

	// added gets every snapshot element that was inserted
	added func(T)

	// discarded gets snapshot elements whose key was already present
	discarded func(T)
}

// reconcile updates current to mirror snapshot while keeping the existing element
// for every key present in both. Removals are reported in reverse collection order,
// additions in snapshot order.
func reconcile[T any](current, snapshot []T, key func(T) string, hooks reconcileHooks[T]) []T {
	incoming := make(map[string]struct{}, len(snapshot))
	for _, s := range snapshot {
		incoming[key(s)] = struct{}{}
	}

	for i := len(current) - 1; i >= 0; i-- {
		c := current[i]
		if _, ok := incoming[key(c)]; ok {
			continue
		}

		current = append(current[:i], current[i+1:]...)
		if hooks.removed != nil {
			hooks.removed(c)
		}
	}

	present := make(map[string]struct{}, len(current)+len(snapshot))
	for _, c := range current {
		present[key(c)] = struct{}{}
	}

	for _, s := range snapshot {
		k := key(s)
		if _, ok := present[k]; ok {
			if hooks.discarded != nil {
				hooks.discarded(s)
			}

			continue
		}

		present[k] = struct{}{}
		current = append(current, s)

		if hooks.added != nil {
			hooks.added(s)
		}
	}

	return current
}

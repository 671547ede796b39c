package contact

import "github.com/spacedatanetwork/sdn-contacts/internal/keys"

// tryKeys calls attempt with each key in order and stops at the first
// success, returning its result and the key that produced it.
func tryKeys[T any](candidates []*keys.Key, attempt func(*keys.Key) (T, bool)) (T, *keys.Key, bool) {
	for _, k := range candidates {
		if k == nil {
			continue
		}
		if v, ok := attempt(k); ok {
			return v, k, true
		}
	}
	var zero T
	return zero, nil, false
}

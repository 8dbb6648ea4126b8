package registry

import "github.com/alphadose/haxmap"

// Registry is a concurrency-safe map from string ids to values. The broker
// keeps its peer directory in one so that snapshots can be taken from outside
// the dispatch loop.
type Registry[T any] interface {
	Get(id string) (T, bool)
	Add(id string, value T)
	Del(id string)
	Len() int
	Values() []T
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(id string) (T, bool) {
	return r.values.Get(id)
}

func (r *registry[T]) Add(id string, value T) {
	r.values.Set(id, value)
}

func (r *registry[T]) Del(id string) {
	r.values.Del(id)
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}

// Values returns the registered values in no particular order.
func (r *registry[T]) Values() []T {
	result := make([]T, 0, r.Len())
	r.values.ForEach(func(_ string, v T) bool {
		result = append(result, v)
		return true
	})
	return result
}

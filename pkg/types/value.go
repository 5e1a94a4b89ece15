package types

// a value read from the shared store
// Set is false when the key is absent, Data is meaningless then
type Value struct {
	Data string
	Set  bool
}

func Present(data string) Value {
	return Value{Data: data, Set: true}
}

func Absent() Value {
	return Value{}
}

// a single key mutation as seen by another context
// Writer is the context that issued the mutation (empty when the backend cannot tell)
type Change struct {
	Key    string
	Writer string
	Old    Value
	New    Value
}

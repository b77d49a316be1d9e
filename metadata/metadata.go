// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metadata provides a type-safe container of custom metadata
// named Values. It can be used to attach arbitrary properties to a
// backend, such as a locality or a canary flag, by whatever component
// discovers the backend. Custom properties are declared using [NewKey]
// to create a strongly-typed key. The values can then be defined using
// the key's Value method and read back with [GetValue].
//
//	var GeographicRegion = metadata.NewKey[string]()
//
//	values := metadata.NewValues(GeographicRegion.Value("us-east1"))
//	region, ok := metadata.GetValue(values, GeographicRegion)
package metadata

// Values is a collection of type-safe custom metadata values. It
// contains a mapping of [Key] to value for any number of keys. The
// zero value is an empty collection.
type Values struct {
	data map[any]any
}

// NewValues creates a new Values with the provided entries. Use this
// function in tandem with [Key.Value]:
//
//	var testKey = metadata.NewKey[string]()
//	...
//	metadata.NewValues(testKey.Value("test"))
func NewValues(entries ...Entry) Values {
	data := make(map[any]any, len(entries))
	for _, entry := range entries {
		data[entry.key] = entry.value
	}
	return Values{data: data}
}

// Len returns the number of entries in the collection.
func (v Values) Len() int {
	return len(v.data)
}

// Key is a metadata key. Applications should use NewKey to create a
// new key for each distinct property. The type T is the type of values
// the property can have.
type Key[T any] struct {
	// can't be empty or else pointers won't be distinct
	_ bool
}

// NewKey returns a new key that can have values of type T. Each call
// to NewKey results in a distinct key, even if multiple are created
// for the same type. (Keys are identified by their address.)
func NewKey[T any]() *Key[T] {
	return new(Key[T])
}

// Value constructs a new Entry, which can be passed to [NewValues].
func (k *Key[T]) Value(value T) Entry {
	return Entry{key: k, value: value}
}

// Entry is a single metadata property, composed of a key and
// corresponding value.
type Entry struct {
	key, value any
}

// GetValue retrieves a single value from the given Values. If the key
// is not present, the zero value and false are returned instead.
func GetValue[T any](values Values, key *Key[T]) (T, bool) {
	val, ok := values.data[key]
	if !ok {
		var zero T
		return zero, false
	}
	tval, ok := val.(T)
	return tval, ok
}

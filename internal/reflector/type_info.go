// Package reflector derives stable, human-readable names from Go types.
package reflector

import (
	"path"
	"reflect"
	"sync"
)

var names sync.Map // reflect.Type -> string

// NameFor returns the short name of T in the form "pkg.Type".
// Pointer types resolve to their element type.
func NameFor[T any]() string {
	return NameOfType(reflect.TypeOf((*T)(nil)).Elem())
}

// NameOfType returns the short name of t. Unnamed types such as maps or
// slices render through reflect's String form.
func NameOfType(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if v, ok := names.Load(t); ok {
		return v.(string)
	}

	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}

	name := base.String()
	if base.Name() != "" && base.PkgPath() != "" {
		name = path.Base(base.PkgPath()) + "." + base.Name()
	}

	names.Store(t, name)
	return name
}

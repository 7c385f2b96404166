package node

import (
	"reflect"
	"sync"

	"golang.org/x/xerrors"
)

// reflectInjector is a dependency injector that uses reflection to resolve
// specific interfaces. Actions run concurrently on the daemon so the map is
// protected by a lock.
//
// - implements node.Injector
type reflectInjector struct {
	sync.RWMutex
	mapper map[reflect.Type]interface{}
}

// NewInjector returns a empty injector.
func NewInjector() Injector {
	return &reflectInjector{
		mapper: make(map[reflect.Type]interface{}),
	}
}

// Resolve implements node.Injector. It populates the given interface with the
// dependency of the exact type if any, or the first compatible one.
func (inj *reflectInjector) Resolve(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return xerrors.New("expect a pointer")
	}

	if !rv.Elem().IsValid() {
		return xerrors.Errorf("reflect value '%v' is invalid", rv)
	}

	target := rv.Elem().Type()

	inj.RLock()
	defer inj.RUnlock()

	value, found := inj.mapper[target]
	if found {
		rv.Elem().Set(reflect.ValueOf(value))
		return nil
	}

	for typ, value := range inj.mapper {
		if typ.AssignableTo(target) {
			rv.Elem().Set(reflect.ValueOf(value))
			return nil
		}
	}

	return xerrors.Errorf("couldn't find dependency for '%v'", target)
}

// Inject implements node.Injector. It injects the dependency to be available
// later on. A dependency of the same type replaces the previous one.
func (inj *reflectInjector) Inject(v interface{}) {
	inj.Lock()
	inj.mapper[reflect.TypeOf(v)] = v
	inj.Unlock()
}

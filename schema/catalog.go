package schema

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Catalog lists candidate entity types under a namespace. Build scans every
// configured namespace and keeps the serializable candidates.
type Catalog interface {
	Scan(namespace string) ([]reflect.Type, error)
}

// MapCatalog is an in-process Catalog keyed by slash-separated namespaces. Scanning
// "demo" returns types added under "demo" and "demo/...", but not "demoapp".
type MapCatalog struct {
	mu    sync.RWMutex
	types map[string][]reflect.Type
}

func NewMapCatalog() *MapCatalog {
	return &MapCatalog{types: make(map[string][]reflect.Type)}
}

// Add records the types of values under namespace. Values may be types, struct
// values or pointers to structs.
func (c *MapCatalog) Add(namespace string, values ...any) *MapCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range values {
		if t := typeOfItem(v); t != nil {
			c.types[namespace] = append(c.types[namespace], t)
		}
	}
	return c
}

func (c *MapCatalog) Scan(namespace string) ([]reflect.Type, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	namespaces := make([]string, 0, len(c.types))
	for ns := range c.types {
		if namespace == "" || ns == namespace || strings.HasPrefix(ns, namespace+"/") {
			namespaces = append(namespaces, ns)
		}
	}
	sort.Strings(namespaces)

	var out []reflect.Type
	for _, ns := range namespaces {
		out = append(out, c.types[ns]...)
	}
	return out, nil
}

// typeOfItem resolves a registration item to its struct type, dereferencing
// pointers.
func typeOfItem(v any) reflect.Type {
	var t reflect.Type
	switch item := v.(type) {
	case nil:
		return nil
	case reflect.Type:
		t = item
	default:
		t = reflect.TypeOf(v)
	}
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

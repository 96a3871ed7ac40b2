package schema

import (
	"reflect"
	"strconv"
	"strings"
)

// TagName is the struct tag key read during field discovery.
const TagName = "wire"

// fieldTag is the parsed form of a `wire:"..."` struct tag.
//
// Tag format: `wire:"name,id=N,readonly"` or `wire:"-"`
//
//	type User struct {
//	    ID      int64  `wire:"id,id=0"`  // key "id", pinned ordinal 0
//	    Name    string `wire:",id=1"`    // declared name "Name", ordinal 1
//	    Created string `wire:",readonly"` // emitted, never assigned on decode
//	    Secret  string `wire:"-"`         // not part of the schema
//	}
type fieldTag struct {
	Name     string // renamed key, empty keeps the Go name
	ID       int    // pinned ordinal, -1 when unset
	ReadOnly bool
	Ignore   bool
}

func parseFieldTag(owner string, field reflect.StructField) (fieldTag, error) {
	tag := fieldTag{ID: -1}
	value, ok := field.Tag.Lookup(TagName)
	if !ok {
		return tag, nil
	}
	if value == "-" {
		tag.Ignore = true
		return tag, nil
	}
	parts := strings.Split(value, ",")
	tag.Name = strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, hasValue := strings.Cut(part, "=")
		switch key {
		case "id":
			id, err := strconv.Atoi(strings.TrimSpace(val))
			if !hasValue || err != nil || id < 0 {
				return tag, schemaErrorf(owner, field.Name, "invalid id option %q", part)
			}
			tag.ID = id
		case "readonly":
			tag.ReadOnly = true
		default:
			return tag, schemaErrorf(owner, field.Name, "unknown %s tag option %q", TagName, key)
		}
	}
	return tag, nil
}

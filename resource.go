package gatewaysync

import "strings"

// ResourceKind names a mirrored gateway object type.
type ResourceKind string

const (
	KindService ResourceKind = "service"
	KindRoute   ResourceKind = "route"
	KindPlugin  ResourceKind = "plugin"
)

// ResourceKey identifies one resource across plans and compensation jobs. It
// is the kind followed by the mirror id when a row exists, or the remote id
// for resources that were never committed to the mirror.
type ResourceKey string

// KeyOf builds the key for a resource of the given kind.
func KeyOf(kind ResourceKind, id string) ResourceKey {
	return ResourceKey(string(kind) + "/" + id)
}

// Split returns the kind and id encoded in the key.
func (k ResourceKey) Split() (ResourceKind, string) {
	kind, id, ok := strings.Cut(string(k), "/")
	if !ok {
		return "", string(k)
	}
	return ResourceKind(kind), id
}

func (k ResourceKey) String() string {
	return string(k)
}

// UniqueKey is a field value that must not be shared with a sibling resource.
// ExceptID excludes the resource being updated from the check.
type UniqueKey struct {
	Kind     ResourceKind
	Field    string
	Value    string
	ExceptID string
}

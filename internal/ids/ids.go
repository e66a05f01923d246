// Package ids provides strong identifiers serialized as hyphenated UUIDs.
//
// Name-derived ids are version 5 UUIDs computed under a fixed namespace per
// identifier kind, so the same name always maps to the same id and equal names
// of different kinds never collide.
package ids

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Kind names an identifier family and owns its UUIDv5 namespace.
type Kind string

const (
	KindCollection  Kind = "collection"
	KindObservation Kind = "observation"
	KindOperation   Kind = "operation"
	KindSession     Kind = "session"
	KindProject     Kind = "project"
	KindRepository  Kind = "repository"
)

// rootNamespace anchors every per-kind namespace.
var rootNamespace = uuid.MustParse("6f1b0a3e-2c4d-5e8f-9a0b-1c2d3e4f5a6b")

// Namespace returns the fixed namespace UUID for kind.
func Namespace(kind Kind) uuid.UUID {
	return uuid.NewSHA1(rootNamespace, []byte(kind))
}

// Of derives the deterministic id of name within kind.
func Of(kind Kind, name string) uuid.UUID {
	return uuid.NewSHA1(Namespace(kind), []byte(name))
}

// CollectionID identifies a logical bucket of vectors.
type CollectionID uuid.UUID

// CollectionFromName derives a CollectionID from a free-form name.
func CollectionFromName(name string) CollectionID {
	return CollectionID(Of(KindCollection, name))
}

// ParseCollectionID parses a hyphenated UUID.
func ParseCollectionID(s string) (CollectionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CollectionID{}, err
	}
	return CollectionID(u), nil
}

// String renders the hyphenated form.
func (c CollectionID) String() string {
	return uuid.UUID(c).String()
}

// BackendName maps the id onto a name legal for restrictive vector backends:
// a fixed prefix followed by the undashed hex UUID.
func (c CollectionID) BackendName() string {
	return "c_" + strings.ReplaceAll(c.String(), "-", "")
}

// MarshalJSON encodes the id as a hyphenated UUID string.
func (c CollectionID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a hyphenated UUID string.
func (c *CollectionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCollectionID(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// New returns a random (v4) id string, used for observations and operations
// that have no natural name.
func New() string {
	return uuid.NewString()
}

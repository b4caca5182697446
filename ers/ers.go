// Package ers is the entity-relationship storage model: typed entities with
// indexed properties, unindexed blobs and directed many-to-many links, read
// through ordered range scans inside isolated transactions.
//
// Backends implement Store, Txn and Entity. Everything else in this package
// (set algebra over iterables, scoped and optimistic transactions, checked
// and recomputing decorators, dump and load) is built on those interfaces.
package ers

import (
	"fmt"

	"github.com/andreyvit/ersdb/bag"
	"github.com/andreyvit/ersdb/provider"
)

// TxnKey is the key of the active Txn in bags returned by Txn.Context.
const TxnKey bag.Key = "ers.txn"

// EntityID identifies an entity. TypeID is assigned once per type name and
// storage; InstanceID is unique within the type.
type EntityID struct {
	TypeID     int32
	InstanceID int64
}

func (id EntityID) String() string {
	return fmt.Sprintf("%d-%d", id.TypeID, id.InstanceID)
}

// Compare orders ids by type, then instance.
func (id EntityID) Compare(other EntityID) int {
	switch {
	case id.TypeID < other.TypeID:
		return -1
	case id.TypeID > other.TypeID:
		return 1
	case id.InstanceID < other.InstanceID:
		return -1
	case id.InstanceID > other.InstanceID:
		return 1
	default:
		return 0
	}
}

// Entity is a handle to one stored entity, valid only inside the transaction
// that produced it. Absent properties and blobs read as nil.
type Entity interface {
	ID() EntityID
	Type() string
	Txn() Txn
	Exists() (bool, error)

	Property(name string) ([]byte, error)
	SetProperty(name string, value []byte) (bool, error)
	DeleteProperty(name string) (bool, error)

	Blob(name string) ([]byte, error)
	SetBlob(name string, value []byte) error
	DeleteBlob(name string) (bool, error)

	Links(name string) Iterable
	// IncomingLinks yields the entities whose link called name points at
	// this entity.
	IncomingLinks(name string) Iterable
	AddLink(name string, target Entity) (bool, error)
	DeleteLink(name string, target Entity) (bool, error)
	DeleteLinks(name string) error

	// Delete removes the entity with its properties, blobs, outgoing links
	// and the links pointing at it.
	Delete() error
}

// Txn is a consistent view of a Store. It finishes exactly once; afterwards
// Commit fails with ErrTxFinished and Abort does nothing.
type Txn interface {
	Store() Store
	Readonly() bool
	Finished() bool
	// Context carries the transaction and backend objects to collaborators.
	Context() bag.Bag

	NewEntity(typ string) (Entity, error)
	// Entity returns nil without error when no such entity exists.
	Entity(id EntityID) (Entity, error)
	// EntityUnsafe returns a handle without checking that the entity exists.
	EntityUnsafe(id EntityID) Entity

	// All returns every entity of the type in ascending id order.
	All(typ string) Iterable
	// Find scans the index of one property. Results come in ascending order
	// of property value; entities with equal values come in id order.
	Find(typ, property string, value []byte, mode CompareMode) Iterable

	DropAll() error
	// Commit returns false with a nil error when a concurrent transaction
	// conflicted; the changes are discarded and the Txn is finished.
	Commit() (bool, error)
	Abort()
}

// Introspector is implemented by transactions that can list the schema seen
// so far.
type Introspector interface {
	EntityTypes() ([]string, error)
	PropertyNames(typ string) ([]string, error)
	BlobNames(typ string) ([]string, error)
	LinkNames(typ string) ([]string, error)
}

// introspector finds an Introspector through any decorators wrapping txn.
func introspector(txn Txn) Introspector {
	for txn != nil {
		if in, ok := txn.(Introspector); ok {
			return in
		}
		d, ok := txn.(interface{ Delegate() Txn })
		if !ok {
			return nil
		}
		txn = d.Delegate()
	}
	return nil
}

func EntityTypes(txn Txn) ([]string, error) {
	if in := introspector(txn); in != nil {
		return in.EntityTypes()
	}
	return nil, nil
}

func PropertyNames(txn Txn, typ string) ([]string, error) {
	if in := introspector(txn); in != nil {
		return in.PropertyNames(typ)
	}
	return nil, nil
}

func BlobNames(txn Txn, typ string) ([]string, error) {
	if in := introspector(txn); in != nil {
		return in.BlobNames(typ)
	}
	return nil, nil
}

func LinkNames(txn Txn, typ string) ([]string, error) {
	if in := introspector(txn); in != nil {
		return in.LinkNames(typ)
	}
	return nil, nil
}

type Store interface {
	Name() string
	Begin(readonly bool) (Txn, error)
	Close() error
}

// Provider opens stores from the objects found in ctx.
type Provider interface {
	ID() string
	NewStore(ctx bag.Bag) (Store, error)
}

// NewRegistry returns an empty registry of ERS providers.
func NewRegistry() *provider.Registry[Provider] {
	return provider.NewRegistry[Provider]("ers")
}

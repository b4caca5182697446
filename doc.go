/*
Package ersdb stores entities, their properties, blobs and links on top of a
pluggable key-value engine.

# Layers

**kv.** Transactions over named, ordered maps of byte keys. Three engines are
built in: an in-memory engine, Bolt and Badger. Maps may be declared to hold
several values per key.

**symbols.** Every entity type, property, blob and link name is interned to a
dense integer id. Ids are persisted lazily, on the next writable commit.

**ers.** The entity-relationship API: entities identified by a type id and an
instance id, typed find queries over property indices, link traversal, and a
small algebra over iterables (union, intersection, subtraction).

**kvers.** Maps ers onto kv. Each entity type gets its own maps, named after
the interned ids, so listing a type or querying a property touches a single
ordered map.

**typed.** Generic accessors binding a property, blob or link name to a Go
type and a codec.

# Transactions

DB.Read runs a read-only transaction. DB.Write runs a writable one and retries
it when the engine reports a conflicting concurrent commit. Both abort when
the callback returns an error or panics.

# Map naming

	ers.seq              type id -> last instance id
	ers.schema           known types and names per type
	ers.symbols          symbol id -> name
	ers.e/<t>            instance id -> nothing
	ers.p/<t>            instance id, property id -> value
	ers.pi/<t>/<p>       value -> instance id (duplicates)
	ers.b/<t>            instance id, blob id -> bytes
	ers.l/<t>/<l>        instance id -> target entity (duplicates)
	ers.rl/<t>/<l>       target entity -> source instance id (duplicates)
*/
package ersdb

package kvers

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andreyvit/ersdb/codec"
	"github.com/andreyvit/ersdb/ers"
)

// Map layout. Type, property, blob and link names are interned, and map
// names carry the numeric ids:
//
//	ers.seq              type id → last instance id
//	ers.schema           kind + type id + name → empty (names seen so far)
//	ers.e/<type>         instance → empty (existence)
//	ers.p/<type>         instance + property id → value
//	ers.pi/<type>/<prop> value → instance (duplicate keys)
//	ers.b/<type>         instance + blob id → value
//	ers.l/<type>/<link>  source instance → target id (duplicate keys)
//	ers.rl/<type>/<link> target instance → source id (duplicate keys)
//
// Instances are encoded with codec.CompressedInt64, entity ids as
// codec.Int32 type followed by codec.Int64 instance.
const (
	seqMap    = "ers.seq"
	schemaMap = "ers.schema"
)

const (
	entitiesPrefix = "ers.e/"
	propsPrefix    = "ers.p/"
	indexPrefix    = "ers.pi/"
	blobsPrefix    = "ers.b/"
	linksPrefix    = "ers.l/"
	reversePrefix  = "ers.rl/"
)

// Duplicates tells which maps of the layout hold duplicate keys. Storages
// used by this package must be opened with it as kv.Settings.Duplicates.
func Duplicates(mapName string) bool {
	return strings.HasPrefix(mapName, indexPrefix) ||
		strings.HasPrefix(mapName, linksPrefix) ||
		strings.HasPrefix(mapName, reversePrefix)
}

// Schema record kinds.
const (
	kindType     byte = 'T'
	kindProperty byte = 'p'
	kindBlob     byte = 'b'
	kindLink     byte = 'l'
	kindIncoming byte = 'r'
)

type mapKey struct {
	prefix string
	typeID int32
	nameID int64
}

func (k mapKey) String() string {
	if k.nameID == 0 {
		return fmt.Sprintf("%s%d", k.prefix, k.typeID)
	}
	return fmt.Sprintf("%s%d/%d", k.prefix, k.typeID, k.nameID)
}

func instanceKey(instance int64) []byte {
	return codec.Encode(codec.CompressedInt64, instance)
}

func rowKey(instance, nameID int64) []byte {
	return codec.CompressedInt64.Append(instanceKey(instance), nameID)
}

// rowName extracts the name id from a row key that starts with prefix.
func rowName(key, prefix []byte) (int64, error) {
	return codec.CompressedInt64.Decode(key[len(prefix):])
}

func entityValue(id ers.EntityID) []byte {
	return codec.Int64.Append(codec.Encode(codec.Int32, id.TypeID), id.InstanceID)
}

func decodeEntityValue(data []byte) (ers.EntityID, error) {
	if len(data) != 12 {
		return ers.EntityID{}, fmt.Errorf("%w: kvers: bad entity id %x", ers.ErrStorage, data)
	}
	t, err := codec.Int32.Decode(data[:4])
	if err != nil {
		return ers.EntityID{}, err
	}
	i, err := codec.Int64.Decode(data[4:])
	if err != nil {
		return ers.EntityID{}, err
	}
	return ers.EntityID{TypeID: t, InstanceID: i}, nil
}

func schemaPrefix(kind byte, typeID int32) []byte {
	return codec.Int32.Append([]byte{kind}, typeID)
}

func schemaKey(kind byte, typeID int32, name string) []byte {
	return codec.String.Append(schemaPrefix(kind, typeID), name)
}

func typeSchemaKey(name string) []byte {
	return codec.String.Append([]byte{kindType}, name)
}

func hasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}

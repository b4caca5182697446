package kvers

import (
	"github.com/andreyvit/ersdb/bag"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/kv"
	"github.com/andreyvit/ersdb/symbols"
)

const ProviderID = "kv"

// OptionsKey optionally holds Options in the bag passed to NewStore.
const OptionsKey bag.Key = "kvers.options"

type kvProvider struct{}

// Provider opens stores over the *kv.Storage found under bag.Storage. An
// interner under bag.Interner and Options under OptionsKey are used when
// present.
var Provider ers.Provider = kvProvider{}

func (kvProvider) ID() string { return ProviderID }

func (kvProvider) NewStore(ctx bag.Bag) (ers.Store, error) {
	storage, err := bag.Get[*kv.Storage](ctx, bag.Storage)
	if err != nil {
		return nil, err
	}
	var in *symbols.Interner
	if ctx.Has(bag.Interner) {
		if in, err = bag.Get[*symbols.Interner](ctx, bag.Interner); err != nil {
			return nil, err
		}
	}
	var opts Options
	if ctx.Has(OptionsKey) {
		if opts, err = bag.Get[Options](ctx, OptionsKey); err != nil {
			return nil, err
		}
	}
	return Open(storage, in, opts)
}

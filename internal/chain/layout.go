package chain

import (
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// accountLayout identifies the counters preceding AccountData in System.Account.
type accountLayout int

const (
	accountUnknown accountLayout = iota
	accountRefCountU8
	accountRefCount
	accountProviders
	accountSufficients
)

// AccountData is four u128 balances in every runtime the report reads.
const accountDataLen = 64

// accountLayoutFromSize infers the layout from the encoded size, which is fixed
// per layout. Used when the runtime metadata carries no type registry.
func accountLayoutFromSize(n int) accountLayout {
	switch n {
	case 4 + 1 + accountDataLen:
		return accountRefCountU8
	case 4 + 4 + accountDataLen:
		return accountRefCount
	case 3*4 + accountDataLen:
		return accountProviders
	case 4*4 + accountDataLen:
		return accountSufficients
	default:
		return accountUnknown
	}
}

// accountLayoutFromMetadata reads the AccountInfo field names from a V14 type
// registry. Older metadata yields accountUnknown.
func accountLayoutFromMetadata(meta *types.Metadata) accountLayout {
	fields, ok := storageValueFields(meta, "System", "Account")
	if !ok {
		return accountUnknown
	}
	switch {
	case hasField(fields, "sufficients"):
		return accountSufficients
	case hasField(fields, "providers"):
		return accountProviders
	case hasField(fields, "refcount"):
		return accountRefCount
	default:
		return accountUnknown
	}
}

// identityLayout identifies the shape of IdentityInfo.
type identityLayout int

const (
	identityLegacy identityLayout = iota
	identityPeople
)

func (l identityLayout) String() string {
	if l == identityPeople {
		return "people"
	}
	return "legacy"
}

// identityLayoutFromMetadata checks whether IdentityInfo still carries the
// additional fields vec. Metadata without a type registry predates the People
// chain and is treated as legacy.
func identityLayoutFromMetadata(meta *types.Metadata) identityLayout {
	fields, ok := storageValueFields(meta, "Identity", "IdentityOf")
	if !ok {
		return identityLegacy
	}
	info, ok := fieldType(meta, fields, "info")
	if !ok {
		return identityLegacy
	}
	if info.Def.IsComposite && !hasField(info.Def.Composite.Fields, "additional") {
		return identityPeople
	}
	return identityLegacy
}

// storageValueFields returns the composite fields of a map entry's value type.
// A tuple value, as in (Registration, Option<Username>), resolves to its first element.
func storageValueFields(meta *types.Metadata, pallet, item string) ([]types.Si1Field, bool) {
	if meta == nil || meta.Version != 14 {
		return nil, false
	}
	entry, err := meta.AsMetadataV14.FindStorageEntryMetadata(pallet, item)
	if err != nil {
		return nil, false
	}
	v14, ok := entry.(types.StorageEntryMetadataV14)
	if !ok || !v14.IsMap() {
		return nil, false
	}

	id := v14.Type.AsMap.Value
	typ, ok := lookupType(meta, id)
	if !ok {
		return nil, false
	}
	if typ.Def.IsTuple && len(typ.Def.Tuple) > 0 {
		if typ, ok = lookupType(meta, typ.Def.Tuple[0]); !ok {
			return nil, false
		}
	}
	if !typ.Def.IsComposite {
		return nil, false
	}
	return typ.Def.Composite.Fields, true
}

func fieldType(meta *types.Metadata, fields []types.Si1Field, name string) (*types.Si1Type, bool) {
	for _, f := range fields {
		if f.HasName && string(f.Name) == name {
			return lookupType(meta, f.Type)
		}
	}
	return nil, false
}

func lookupType(meta *types.Metadata, id types.Si1LookupTypeID) (*types.Si1Type, bool) {
	typ, ok := meta.AsMetadataV14.EfficientLookup[id.Int64()]
	return typ, ok && typ != nil
}

func hasField(fields []types.Si1Field, name string) bool {
	for _, f := range fields {
		if f.HasName && string(f.Name) == name {
			return true
		}
	}
	return false
}

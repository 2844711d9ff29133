package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Judgement is a registrar's verdict on an identity.
type Judgement uint8

const (
	JudgementUnknown Judgement = iota
	JudgementFeePaid
	JudgementReasonable
	JudgementKnownGood
	JudgementOutOfDate
	JudgementLowQuality
	JudgementErroneous
)

func (j Judgement) String() string {
	switch j {
	case JudgementUnknown:
		return "Unknown"
	case JudgementFeePaid:
		return "FeePaid"
	case JudgementReasonable:
		return "Reasonable"
	case JudgementKnownGood:
		return "KnownGood"
	case JudgementOutOfDate:
		return "OutOfDate"
	case JudgementLowQuality:
		return "LowQuality"
	case JudgementErroneous:
		return "Erroneous"
	default:
		return fmt.Sprintf("Judgement(%d)", uint8(j))
	}
}

// Good reports whether the judgement vouches for the identity.
func (j Judgement) Good() bool {
	return j == JudgementReasonable || j == JudgementKnownGood
}

// Decode reads the enum tag and skips the fee carried by FeePaid.
func (j *Judgement) Decode(decoder scale.Decoder) error {
	tag, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	if Judgement(tag) > JudgementErroneous {
		return fmt.Errorf("unknown judgement variant %d", tag)
	}
	*j = Judgement(tag)
	if *j == JudgementFeePaid {
		var fee types.U128
		return decoder.Decode(&fee)
	}
	return nil
}

// Registration is the part of an identity record the report needs.
// Display holds the raw display field as 0x-prefixed hex, empty when unset.
type Registration struct {
	Judgements []Judgement
	Display    string
}

// SuperIdentity links a sub-account to its parent identity.
// Sub holds the raw sub label as 0x-prefixed hex, empty when unset.
type SuperIdentity struct {
	Parent string
	Sub    string
}

// Nominations is a nominator's current target set.
type Nominations struct {
	Targets     []string
	SubmittedIn uint32
}

// Identity Data variants: 0 is None, 1..33 is Raw with length tag-1,
// 34..37 are 32-byte hashes.
const (
	dataNone    = 0
	dataRawMax  = 33
	dataHashMax = 37
)

// identityData is the pallet's Data enum. Value is set for Raw variants only.
type identityData struct {
	Value []byte
}

func (d *identityData) Decode(decoder scale.Decoder) error {
	tag, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	switch {
	case tag == dataNone:
		d.Value = nil
		return nil
	case tag <= dataRawMax:
		d.Value = make([]byte, int(tag)-1)
		if len(d.Value) == 0 {
			return nil
		}
		return decoder.Read(d.Value)
	case tag <= dataHashMax:
		var hash [32]byte
		d.Value = nil
		return decoder.Read(hash[:])
	default:
		return fmt.Errorf("unknown identity data variant %d", tag)
	}
}

func (d identityData) hex() string {
	if len(d.Value) == 0 {
		return ""
	}
	return hexutil.Encode(d.Value)
}

type judgementEntry struct {
	Registrar types.U32
	Judgement Judgement
}

type identityField struct {
	Key   identityData
	Value identityData
}

// Relay chain runtimes: IdentityInfo starts with the additional fields vec.
// Only the prefix up to display is declared; the rest is left unread.
type registrationLegacy struct {
	Judgements []judgementEntry
	Deposit    types.U128
	Additional []identityField
	Display    identityData
}

// People chain runtimes: IdentityInfo starts with display.
type registrationPeople struct {
	Judgements []judgementEntry
	Deposit    types.U128
	Display    identityData
}

type superOf struct {
	Parent types.AccountID
	Sub    identityData
}

type nominations struct {
	Targets     []types.AccountID
	SubmittedIn types.U32
}

type stakingLedger struct {
	Stash  types.AccountID
	Total  types.UCompact
	Active types.UCompact
}

type accountData struct {
	Free       types.U128
	Reserved   types.U128
	MiscFrozen types.U128
	FeeFrozen  types.U128
}

type accountInfoRefCountU8 struct {
	Nonce    types.U32
	RefCount types.U8
	Data     accountData
}

type accountInfoRefCount struct {
	Nonce    types.U32
	RefCount types.U32
	Data     accountData
}

type accountInfoProviders struct {
	Nonce     types.U32
	Consumers types.U32
	Providers types.U32
	Data      accountData
}

type accountInfoSufficients struct {
	Nonce       types.U32
	Consumers   types.U32
	Providers   types.U32
	Sufficients types.U32
	Data        accountData
}

var errEmptyValue = errors.New("empty storage value")

func decode(raw []byte, target interface{}) error {
	if len(raw) == 0 {
		return errEmptyValue
	}
	return codec.Decode(raw, target)
}

func u128(v types.U128) *big.Int {
	if v.Int == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.Int)
}

// decodeAccountFree extracts data.free from a System.Account value using the
// counter layout of the runtime that wrote it.
func decodeAccountFree(raw []byte, layout accountLayout) (*big.Int, error) {
	if layout == accountUnknown {
		layout = accountLayoutFromSize(len(raw))
	}

	var (
		data accountData
		err  error
	)
	switch layout {
	case accountRefCountU8:
		var info accountInfoRefCountU8
		err = decode(raw, &info)
		data = info.Data
	case accountRefCount:
		var info accountInfoRefCount
		err = decode(raw, &info)
		data = info.Data
	case accountProviders:
		var info accountInfoProviders
		err = decode(raw, &info)
		data = info.Data
	case accountSufficients:
		var info accountInfoSufficients
		err = decode(raw, &info)
		data = info.Data
	default:
		return nil, fmt.Errorf("decode account info: unrecognised layout for %d bytes", len(raw))
	}
	if err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return u128(data.Free), nil
}

// decodeLedgerActive extracts the active amount from a Staking.Ledger value.
func decodeLedgerActive(raw []byte) (*big.Int, error) {
	var ledger stakingLedger
	if err := decode(raw, &ledger); err != nil {
		return nil, fmt.Errorf("decode staking ledger: %w", err)
	}
	active := big.Int(ledger.Active)
	return new(big.Int).Set(&active), nil
}

func decodeNominations(raw []byte, prefix uint16) (*Nominations, error) {
	var noms nominations
	if err := decode(raw, &noms); err != nil {
		return nil, fmt.Errorf("decode nominations: %w", err)
	}

	out := &Nominations{Targets: make([]string, 0, len(noms.Targets)), SubmittedIn: uint32(noms.SubmittedIn)}
	for _, id := range noms.Targets {
		addr, err := EncodeAddress(id[:], prefix)
		if err != nil {
			return nil, err
		}
		out.Targets = append(out.Targets, addr)
	}
	return out, nil
}

// decodeRegistration reads judgements and the display field. Fields after
// display (and any username suffix) are ignored.
func decodeRegistration(raw []byte, layout identityLayout) (*Registration, error) {
	var (
		entries []judgementEntry
		display identityData
	)
	switch layout {
	case identityPeople:
		var reg registrationPeople
		if err := decode(raw, &reg); err != nil {
			return nil, fmt.Errorf("decode registration: %w", err)
		}
		entries, display = reg.Judgements, reg.Display
	default:
		var reg registrationLegacy
		if err := decode(raw, &reg); err != nil {
			return nil, fmt.Errorf("decode registration: %w", err)
		}
		entries, display = reg.Judgements, reg.Display
	}

	out := &Registration{Judgements: make([]Judgement, 0, len(entries)), Display: display.hex()}
	for _, e := range entries {
		out.Judgements = append(out.Judgements, e.Judgement)
	}
	return out, nil
}

func decodeSuperOf(raw []byte, prefix uint16) (*SuperIdentity, error) {
	var sup superOf
	if err := decode(raw, &sup); err != nil {
		return nil, fmt.Errorf("decode super of: %w", err)
	}
	parent, err := EncodeAddress(sup.Parent[:], prefix)
	if err != nil {
		return nil, err
	}
	return &SuperIdentity{Parent: parent, Sub: sup.Sub.hex()}, nil
}

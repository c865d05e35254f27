// Package isi defines the instruction and expression ASTs that
// make up a transaction's payload. These are pure tagged-union data types;
// execution and evaluation live in package wsv, which type-switches over
// them against live state. Keeping the AST here (rather than in wsv) lets
// package block depend on the wire format without importing wsv, and lets
// wsv depend on the AST without block needing to know about WorldStateView.
package isi

import (
	"github.com/kagami-chain/kagami/data"
)

// Kind tags the concrete shape of an InstructionBox.
type Kind int

const (
	KindRegisterDomain Kind = iota
	KindUnregisterDomain
	KindRegisterAccount
	KindUnregisterAccount
	KindRegisterAssetDefinition
	KindUnregisterAssetDefinition
	KindMint
	KindBurn
	KindTransfer
	KindSetKeyValue
	KindRemoveKeyValue
	KindGrant
	KindRevoke
	KindRegisterTrigger
	KindUnregisterTrigger
	KindExecuteTrigger
	KindSequence
	KindPair
	KindIf
	KindFail
)

// GrantRevokeTarget tags what a Grant/Revoke instruction's object is: a
// permission token or a role.
type GrantRevokeTarget int

const (
	TargetPermission GrantRevokeTarget = iota
	TargetRole
)

// InstructionBox is a tagged union over every instruction variant: a
// single struct carrying only the fields its Kind uses.
type InstructionBox struct {
	Kind Kind

	Domain           data.DomainId
	Account          data.AccountId
	AssetDefinition  data.AssetDefinitionId
	Asset            data.AssetId
	Role             data.RoleId
	Trigger          data.TriggerId

	// RegisterAccount / RegisterDomain / RegisterAssetDefinition payloads.
	Signatories []ExpressionBox // public keys as raw-byte expressions
	AssetKind   int             // NumericKind, deferred to wsv to avoid import

	// Mint / Burn / Transfer quantities, and SetKeyValue values, are
	// expressions so they can reference transaction context.
	Object ExpressionBox
	Key    ExpressionBox

	// Transfer destination account (source is Account above).
	Destination data.AccountId

	GrantRevokeTarget GrantRevokeTarget
	PermissionToken   int // wsv.PermissionToken, deferred to avoid import

	// Sequence is an ordered list of sub-instructions executed in order,
	// failing atomically as a whole.
	Sequence []InstructionBox

	// Pair executes two instructions as a unit.
	Left, Right *InstructionBox

	// If is a conditional instruction: Condition is evaluated, and Then or
	// Else (whichever is non-nil and selected) executes.
	Condition  ExpressionBox
	Then, Else *InstructionBox

	// Fail carries a literal failure message, useful in generated
	// conditional branches and tests.
	FailMessage string

	// TriggerSpec carries a RegisterTrigger instruction's payload.
	TriggerSpec *TriggerSpec
}

// TriggerSpec is the registration payload of a RegisterTrigger
// instruction: which partition the trigger lives in, what events its
// filter matches, its repeats budget, and the action it runs. EventKind
// and FilterEventKind are plain ints mirroring triggers.EventKind and
// wsv.DataEventKind; keeping them untyped here avoids importing either
// package from the AST layer.
type TriggerSpec struct {
	EventKind       int
	FilterEventKind int
	Repeats         uint32
	Indefinite      bool
	// Mintable reports whether the trigger's repeats may be topped up
	// after registration. A non-mintable trigger must be registered with
	// exactly one execution.
	Mintable bool
	Action   []InstructionBox
}

package wsv

import (
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
)

// PermissionToken is a closed enum of the grantable permission kinds,
// a closed enum standing in for a string-keyed validator registry
// (core/smartcontracts/isi/permissions/mod.rs) into a Go enum per design
// note §9 ("closed variants gain compile-time exhaustiveness").
type PermissionToken int

const (
	CanMintAssetWithDefinition PermissionToken = iota
	CanBurnAssetWithDefinition
	CanTransferAsset
	CanSetKeyValueInAccount
	CanRemoveKeyValueInAccount
	CanRegisterDomain
	CanUnregisterDomain
	CanRegisterAccount
	CanUnregisterAccount
	CanRegisterAssetDefinition
	CanUnregisterAssetDefinition
	CanGrantPermission
	CanRevokePermission
	CanRegisterTrigger
	CanUnregisterTrigger
	CanExecuteTrigger
	CanSetParameters
)

// Role bundles a set of permission tokens an account can be granted in one
// step.
type Role struct {
	Id          data.RoleId
	Permissions []PermissionToken
}

// Verdict is the three-valued result of a permission check. Ordering for
// "least/most permissive" is Deny < Skip < Allow.
type Verdict int

const (
	Deny Verdict = iota
	Skip
	Allow
)

// DenyWithReason pairs a Deny verdict with the reason it was denied, kept
// separately since Verdict itself must stay a small comparable value for
// the AND/OR truth tables.
type DenyWithReason struct {
	Reason string
}

// And combines two verdicts: any Deny wins; otherwise any Allow wins;
// Skip only survives when both sides abstain.
func (v Verdict) And(other Verdict) Verdict {
	if v == Deny || other == Deny {
		return Deny
	}
	if v == Allow || other == Allow {
		return Allow
	}
	return Skip
}

// Or combines two verdicts: any Allow wins; otherwise any Deny wins;
// Skip only survives when both sides abstain.
func (v Verdict) Or(other Verdict) Verdict {
	if v == Allow || other == Allow {
		return Allow
	}
	if v == Deny || other == Deny {
		return Deny
	}
	return Skip
}

// Not implements negation: ¬Allow=Deny, ¬Skip=Skip, ¬Deny=Allow.
func (v Verdict) Not() Verdict {
	switch v {
	case Allow:
		return Deny
	case Deny:
		return Allow
	default:
		return Skip
	}
}

// Less orders verdicts Deny < Skip < Allow.
func (v Verdict) Less(other Verdict) bool { return v < other }

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "Allow"
	case Deny:
		return "Deny"
	default:
		return "Skip"
	}
}

// Validator judges a single instruction/query operation against the
// current state, returning a Verdict and (if Deny) a human reason.
type Validator interface {
	Validate(authority data.AccountId, instruction isi.InstructionBox, wsv *WorldStateView) (Verdict, string)
}

// ValidatorFunc adapts a function to Validator, and is also the single
// extension point for user-provided (WASM) validators: a caller-supplied
// opaque validator that Kagami never executes in-process, only wires
// through this interface.
type ValidatorFunc func(authority data.AccountId, instruction isi.InstructionBox, wsv *WorldStateView) (Verdict, string)

func (f ValidatorFunc) Validate(authority data.AccountId, instruction isi.InstructionBox, wsv *WorldStateView) (Verdict, string) {
	return f(authority, instruction, wsv)
}

// Judge combines an ordered list of validators into one verdict.
type Judge struct {
	Validators []Validator
	// Strategy selects how individual verdicts fold into the final one.
	Strategy JudgeStrategy
}

// JudgeStrategy selects the Judge's fold rule.
type JudgeStrategy int

const (
	// NoDenies terminates on the first Deny; absent any Deny, the result
	// is Allow if any validator returned Allow, else Skip.
	NoDenies JudgeStrategy = iota
	// AtLeastOneAllow requires at least one Allow verdict; any Deny before
	// an Allow is found still short-circuits to Deny.
	AtLeastOneAllow
)

// Judge evaluates all validators in order and folds their verdicts per the
// configured Strategy.
func (j Judge) Judge(authority data.AccountId, instruction isi.InstructionBox, wsv *WorldStateView) (Verdict, string) {
	sawAllow := false
	for _, v := range j.Validators {
		verdict, reason := v.Validate(authority, instruction, wsv)
		switch verdict {
		case Deny:
			return Deny, reason
		case Allow:
			sawAllow = true
			if j.Strategy == AtLeastOneAllow {
				return Allow, ""
			}
		}
	}
	if sawAllow {
		return Allow, ""
	}
	if j.Strategy == AtLeastOneAllow {
		return Deny, "no validator allowed the operation"
	}
	return Skip, ""
}

// TokenValidator builds a Validator that allows an instruction only if its
// required permission token is held by the authority (directly or via a
// granted role), and Skips otherwise (letting a later validator in the
// chain decide). An authority whose account is not found gets Deny.
func TokenValidator(required PermissionToken) Validator {
	return ValidatorFunc(func(authority data.AccountId, instruction isi.InstructionBox, wsv *WorldStateView) (Verdict, string) {
		var verdict Verdict
		var reason string
		wsv.mapAccountLocked(authority, func(acc *Account) error {
			if acc.HasPermission(required, wsv.world.Roles) {
				verdict = Allow
			} else {
				verdict = Skip
				reason = "missing permission token"
			}
			return nil
		})
		return verdict, reason
	})
}

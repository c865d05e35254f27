package wsv

import (
	"crypto/ed25519"
	"fmt"

	"github.com/kagami-chain/kagami/block"
	"github.com/kagami-chain/kagami/data"
	"github.com/kagami-chain/kagami/isi"
)

// Execute runs a single instruction against w on behalf of authority,
// returning the DataEvent it produced on success. Execution is atomic per
// top-level instruction: Sequence and Pair stop at the first failing
// sub-instruction and return its error, leaving no partial mutation from
// the failing step itself; earlier steps in the sequence have already
// committed. Sequences are not transactional as a whole — only the
// failed instruction's own effect is excluded.
func Execute(ins isi.InstructionBox, authority data.AccountId, w *WorldStateView) (DataEvent, error) {
	switch ins.Kind {
	case isi.KindRegisterDomain:
		if err := w.RegisterDomain(ins.Domain); err != nil {
			return DataEvent{}, err
		}
		return DataEvent{Kind: EventDomainRegistered, Domain: ins.Domain}, nil

	case isi.KindUnregisterDomain:
		if err := w.UnregisterDomain(ins.Domain); err != nil {
			return DataEvent{}, err
		}
		return DataEvent{Kind: EventDomainUnregistered, Domain: ins.Domain}, nil

	case isi.KindRegisterAccount:
		keys, err := evalSignatories(ins.Signatories)
		if err != nil {
			return DataEvent{}, err
		}
		acc, err := NewAccount(ins.Account, keys)
		if err != nil {
			return DataEvent{}, err
		}
		if err := w.ModifyDomain(ins.Account.Domain, func(dom *Domain) error {
			if _, exists := dom.Accounts[ins.Account]; exists {
				return fmt.Errorf("wsv: account %s already registered", ins.Account)
			}
			dom.Accounts[ins.Account] = acc
			return nil
		}); err != nil {
			return DataEvent{}, err
		}
		return DataEvent{Kind: EventAccountRegistered, Account: ins.Account}, nil

	case isi.KindUnregisterAccount:
		if err := w.ModifyDomain(ins.Account.Domain, func(dom *Domain) error {
			if _, ok := dom.Accounts[ins.Account]; !ok {
				return fmt.Errorf("wsv: account %s not found", ins.Account)
			}
			delete(dom.Accounts, ins.Account)
			return nil
		}); err != nil {
			return DataEvent{}, err
		}
		return DataEvent{Kind: EventAccountUnregistered, Account: ins.Account}, nil

	case isi.KindRegisterAssetDefinition:
		if err := w.ModifyDomain(ins.AssetDefinition.Domain, func(dom *Domain) error {
			if _, exists := dom.AssetDefinitions[ins.AssetDefinition]; exists {
				return fmt.Errorf("wsv: asset definition %s already registered", ins.AssetDefinition)
			}
			dom.AssetDefinitions[ins.AssetDefinition] = AssetDefinition{
				Id:       ins.AssetDefinition,
				Kind:     NumericKind(ins.AssetKind),
				Mintable: true,
			}
			return nil
		}); err != nil {
			return DataEvent{}, err
		}
		return DataEvent{Kind: EventAssetDefinitionRegistered, Domain: ins.AssetDefinition.Domain}, nil

	case isi.KindUnregisterAssetDefinition:
		if err := w.ModifyDomain(ins.AssetDefinition.Domain, func(dom *Domain) error {
			if _, ok := dom.AssetDefinitions[ins.AssetDefinition]; !ok {
				return fmt.Errorf("wsv: asset definition %s not found", ins.AssetDefinition)
			}
			delete(dom.AssetDefinitions, ins.AssetDefinition)
			return nil
		}); err != nil {
			return DataEvent{}, err
		}
		return DataEvent{Kind: EventAssetDefinitionUnregistered, Domain: ins.AssetDefinition.Domain}, nil

	case isi.KindMint:
		return mintBurn(ins, w, true)

	case isi.KindBurn:
		return mintBurn(ins, w, false)

	case isi.KindTransfer:
		return executeTransfer(ins, w)

	case isi.KindSetKeyValue:
		return executeSetKeyValue(ins, w)

	case isi.KindRemoveKeyValue:
		return executeRemoveKeyValue(ins, w)

	case isi.KindGrant:
		return executeGrantRevoke(ins, w, true)

	case isi.KindRevoke:
		return executeGrantRevoke(ins, w, false)

	case isi.KindRegisterTrigger:
		if ins.TriggerSpec == nil {
			return DataEvent{}, fmt.Errorf("wsv: register trigger %s carries no spec", ins.Trigger)
		}
		if w.triggers == nil {
			return DataEvent{}, fmt.Errorf("wsv: no trigger store attached")
		}
		if err := w.triggers.Register(ins.Trigger, ins.Domain, authority, *ins.TriggerSpec); err != nil {
			return DataEvent{}, err
		}
		return DataEvent{Kind: EventTriggerRegistered, Trigger: ins.Trigger, Domain: ins.Domain}, nil

	case isi.KindUnregisterTrigger:
		if w.triggers == nil {
			return DataEvent{}, fmt.Errorf("wsv: no trigger store attached")
		}
		if !w.triggers.Unregister(ins.Trigger) {
			return DataEvent{}, fmt.Errorf("wsv: trigger %s not found", ins.Trigger)
		}
		return DataEvent{Kind: EventTriggerUnregistered, Trigger: ins.Trigger}, nil

	case isi.KindExecuteTrigger:
		return executeTrigger(ins, authority, w)

	case isi.KindSequence:
		var last DataEvent
		for _, sub := range ins.Sequence {
			ev, err := Execute(sub, authority, w)
			if err != nil {
				return DataEvent{}, err
			}
			last = ev
		}
		return last, nil

	case isi.KindPair:
		if _, err := Execute(*ins.Left, authority, w); err != nil {
			return DataEvent{}, err
		}
		return Execute(*ins.Right, authority, w)

	case isi.KindIf:
		cond, err := Eval(ins.Condition, nil)
		if err != nil {
			return DataEvent{}, err
		}
		ok, err := cond.AsBool()
		if err != nil {
			return DataEvent{}, err
		}
		if ok {
			if ins.Then == nil {
				return DataEvent{}, nil
			}
			return Execute(*ins.Then, authority, w)
		}
		if ins.Else == nil {
			return DataEvent{}, nil
		}
		return Execute(*ins.Else, authority, w)

	case isi.KindFail:
		return DataEvent{}, &ExecutionError{Kind: "Fail", Cause: fmt.Errorf("%s", ins.FailMessage)}

	default:
		return DataEvent{}, fmt.Errorf("wsv: unknown instruction kind %d", ins.Kind)
	}
}

func evalSignatories(exprs []isi.ExpressionBox) ([]ed25519.PublicKey, error) {
	out := make([]ed25519.PublicKey, 0, len(exprs))
	for _, e := range exprs {
		v, err := Eval(e, nil)
		if err != nil {
			return nil, err
		}
		s, err := v.AsStringRaw()
		if err != nil {
			return nil, err
		}
		out = append(out, ed25519.PublicKey([]byte(s)))
	}
	return out, nil
}

func mintBurn(ins isi.InstructionBox, w *WorldStateView, mint bool) (DataEvent, error) {
	amountVal, err := Eval(ins.Object, nil)
	if err != nil {
		return DataEvent{}, err
	}
	amount, err := amountVal.AsNumeric()
	if err != nil {
		return DataEvent{}, err
	}
	var outErr error
	err = w.ModifyAccount(ins.Asset.Account, func(acc *Account) error {
		current, ok := acc.Assets[ins.Asset.Definition]
		if !ok {
			current = AssetValue{Kind: amount.Kind}
		}
		var next AssetValue
		if mint {
			next, outErr = CheckedAdd(current, amount)
		} else {
			next, outErr = CheckedSub(current, amount)
		}
		if outErr != nil {
			return outErr
		}
		acc.Assets[ins.Asset.Definition] = next
		return nil
	})
	if err != nil {
		return DataEvent{}, err
	}
	return DataEvent{Kind: EventAccountAssetChanged, Asset: ins.Asset, Account: ins.Asset.Account}, nil
}

func executeTransfer(ins isi.InstructionBox, w *WorldStateView) (DataEvent, error) {
	amountVal, err := Eval(ins.Object, nil)
	if err != nil {
		return DataEvent{}, err
	}
	amount, err := amountVal.AsNumeric()
	if err != nil {
		return DataEvent{}, err
	}
	if err := w.ModifyAccount(ins.Asset.Account, func(acc *Account) error {
		current, ok := acc.Assets[ins.Asset.Definition]
		if !ok {
			current = AssetValue{Kind: amount.Kind}
		}
		next, err := CheckedSub(current, amount)
		if err != nil {
			return err
		}
		acc.Assets[ins.Asset.Definition] = next
		return nil
	}); err != nil {
		return DataEvent{}, err
	}
	destId := data.AssetId{Definition: ins.Asset.Definition, Account: ins.Destination}
	if err := w.ModifyAccount(ins.Destination, func(acc *Account) error {
		current, ok := acc.Assets[ins.Asset.Definition]
		if !ok {
			current = AssetValue{Kind: amount.Kind}
		}
		next, err := CheckedAdd(current, amount)
		if err != nil {
			return err
		}
		acc.Assets[ins.Asset.Definition] = next
		return nil
	}); err != nil {
		return DataEvent{}, err
	}
	return DataEvent{Kind: EventAccountAssetChanged, Asset: destId, Account: ins.Destination}, nil
}

func executeSetKeyValue(ins isi.InstructionBox, w *WorldStateView) (DataEvent, error) {
	keyVal, err := Eval(ins.Key, nil)
	if err != nil {
		return DataEvent{}, err
	}
	key, err := keyVal.AsStringRaw()
	if err != nil {
		return DataEvent{}, err
	}
	val, err := Eval(ins.Object, nil)
	if err != nil {
		return DataEvent{}, err
	}
	if err := w.ModifyAccount(ins.Account, func(acc *Account) error {
		acc.Metadata = acc.Metadata.Set(key, val)
		return nil
	}); err != nil {
		return DataEvent{}, err
	}
	return DataEvent{Kind: EventAccountMetadataChanged, Account: ins.Account}, nil
}

func executeRemoveKeyValue(ins isi.InstructionBox, w *WorldStateView) (DataEvent, error) {
	keyVal, err := Eval(ins.Key, nil)
	if err != nil {
		return DataEvent{}, err
	}
	key, err := keyVal.AsStringRaw()
	if err != nil {
		return DataEvent{}, err
	}
	if err := w.ModifyAccount(ins.Account, func(acc *Account) error {
		next, ok := acc.Metadata.Remove(key)
		if !ok {
			return fmt.Errorf("wsv: key %q not found in account %s metadata", key, ins.Account)
		}
		acc.Metadata = next
		return nil
	}); err != nil {
		return DataEvent{}, err
	}
	return DataEvent{Kind: EventAccountMetadataChanged, Account: ins.Account}, nil
}

func executeGrantRevoke(ins isi.InstructionBox, w *WorldStateView, grant bool) (DataEvent, error) {
	if err := w.ModifyAccount(ins.Account, func(acc *Account) error {
		switch ins.GrantRevokeTarget {
		case isi.TargetPermission:
			tok := PermissionToken(ins.PermissionToken)
			if grant {
				acc.Permissions[tok] = struct{}{}
			} else {
				delete(acc.Permissions, tok)
			}
			return nil
		case isi.TargetRole:
			if grant {
				acc.Roles[ins.Role] = struct{}{}
			} else {
				delete(acc.Roles, ins.Role)
			}
			return nil
		default:
			return fmt.Errorf("wsv: unknown grant/revoke target %d", ins.GrantRevokeTarget)
		}
	}); err != nil {
		return DataEvent{}, err
	}
	kind := EventAccountPermissionChanged
	if ins.GrantRevokeTarget == isi.TargetRole {
		kind = EventAccountRoleChanged
	}
	return DataEvent{Kind: kind, Account: ins.Account}, nil
}

func executeTrigger(ins isi.InstructionBox, authority data.AccountId, w *WorldStateView) (DataEvent, error) {
	actions, ok := w.triggers.ActionFor(ins.Trigger)
	if !ok {
		return DataEvent{}, fmt.Errorf("wsv: trigger %s not found", ins.Trigger)
	}
	for _, action := range actions {
		if _, err := Execute(action, authority, w); err != nil {
			return DataEvent{}, err
		}
	}
	return DataEvent{Kind: EventTriggerExecuted, Trigger: ins.Trigger}, nil
}

// Apply executes every accepted transaction in a committed block against
// w in order, then advances w's height and latest-block-hash bookkeeping.
// It returns the DataEvents produced by every instruction that executed
// successfully, for post-commit dispatch to the trigger set. A transaction
// that fails mid-sequence does not roll back its own earlier
// sub-instructions (see Execute's doc comment); a block only reaches Apply
// after every transaction in it has already been validated as Valid by
// Sumeragi, so failures here indicate a bug rather than an expected path.
func Apply(w *WorldStateView, committed block.CommittedBlock) ([]DataEvent, error) {
	var events []DataEvent
	for _, tx := range committed.Transactions {
		for _, ins := range tx.Payload.Instructions {
			ev, err := Execute(ins, tx.Payload.Authority, w)
			if err != nil {
				return events, err
			}
			events = append(events, ev)
		}
	}
	w.advanceHeight(committed.Header.Height, committed.Hash(w.provider))
	return events, nil
}

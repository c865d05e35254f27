package wsv

import "github.com/kagami-chain/kagami/data"

// DataEventKind tags the concrete shape of a DataEvent.
type DataEventKind int

const (
	EventAccountAssetChanged DataEventKind = iota
	EventAccountPermissionChanged
	EventAccountRoleChanged
	EventAccountMetadataChanged
	EventDomainRegistered
	EventDomainUnregistered
	EventAccountRegistered
	EventAccountUnregistered
	EventAssetDefinitionRegistered
	EventAssetDefinitionUnregistered
	EventTriggerRegistered
	EventTriggerUnregistered
	EventTriggerExecuted

	// EventTransactionCommitted/EventTransactionRejected feed the pipeline
	// trigger partition: Sumeragi raises one of these per
	// transaction in a committed block, after the data events its
	// instructions produced, giving pipeline triggers the tx-lifecycle
	// signal data triggers don't carry.
	EventTransactionCommitted
	EventTransactionRejected

	// EventBlockCommitted feeds the time trigger partition with the
	// committed block's timestamp; a time trigger's Filter decides for
	// itself whether TimestampMs crosses its next scheduled tick.
	EventBlockCommitted
)

// DataEvent is emitted by every instruction that successfully mutates the
// WSV, queued for post-commit dispatch to the trigger set.
type DataEvent struct {
	Kind        DataEventKind
	Domain      data.DomainId
	Account     data.AccountId
	Asset       data.AssetId
	Trigger     data.TriggerId
	TimestampMs uint64
}

package names

import (
	"encoding/json"
	"strconv"

	"caregistrar/core/types"
	"caregistrar/crypto"
)

const (
	EventTypeRegistered       = "names.registered"
	EventTypeRenewed          = "names.renewed"
	EventTypePurchased        = "names.purchased"
	EventTypeTransferred      = "names.transferred"
	EventTypeAddressesUpdated = "names.addresses_updated"
	EventTypeConfigUpdated    = "names.config_updated"
	EventTypeFeesWithdrawn    = "names.fees_withdrawn"
	EventTypeExpiryOverridden = "names.expiry_overridden"
)

// namesEvent adapts a *types.Event to the events.Payload interface.
type namesEvent struct {
	evt *types.Event
}

func (e namesEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e namesEvent) Event() *types.Event { return e.evt }

func formatTime(ts int64) string { return strconv.FormatInt(ts, 10) }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func encodeAddresses(addrs []ResolvedAddress) string {
	if len(addrs) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(addrs)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func recordAttributes(rec *DomainRecord) map[string]string {
	return map[string]string{
		"name":      rec.Name,
		"owner":     crypto.FormatIdentity(rec.Owner),
		"expiresAt": formatTime(rec.ExpiresAt),
	}
}

// NewRegisteredEvent returns the payload emitted when a name is first
// registered.
func NewRegisteredEvent(rec *DomainRecord, payer [20]byte, years, fee uint64) *types.Event {
	attrs := recordAttributes(rec)
	attrs["payer"] = crypto.FormatIdentity(payer)
	attrs["registeredAt"] = formatTime(rec.RegisteredAt)
	attrs["years"] = formatUint(years)
	attrs["fee"] = formatUint(fee)
	attrs["addresses"] = encodeAddresses(rec.Addresses)
	return &types.Event{Type: EventTypeRegistered, Attributes: attrs}
}

// NewRenewedEvent returns the payload emitted when a name's expiry is extended.
func NewRenewedEvent(rec *DomainRecord, payer [20]byte, years, fee uint64, oldExpiry int64) *types.Event {
	attrs := recordAttributes(rec)
	attrs["payer"] = crypto.FormatIdentity(payer)
	attrs["years"] = formatUint(years)
	attrs["fee"] = formatUint(fee)
	attrs["oldExpiry"] = formatTime(oldExpiry)
	attrs["newExpiry"] = formatTime(rec.ExpiresAt)
	return &types.Event{Type: EventTypeRenewed, Attributes: attrs}
}

// NewPurchasedEvent returns the payload emitted when a reclaimable name is
// bought by a new owner.
func NewPurchasedEvent(rec *DomainRecord, previousOwner, payer [20]byte, years, fee uint64) *types.Event {
	attrs := recordAttributes(rec)
	attrs["previousOwner"] = crypto.FormatIdentity(previousOwner)
	attrs["payer"] = crypto.FormatIdentity(payer)
	attrs["registeredAt"] = formatTime(rec.RegisteredAt)
	attrs["years"] = formatUint(years)
	attrs["fee"] = formatUint(fee)
	attrs["addresses"] = encodeAddresses(rec.Addresses)
	return &types.Event{Type: EventTypePurchased, Attributes: attrs}
}

// NewTransferredEvent returns the payload emitted on an ownership change.
func NewTransferredEvent(rec *DomainRecord, previousOwner [20]byte) *types.Event {
	attrs := recordAttributes(rec)
	attrs["previousOwner"] = crypto.FormatIdentity(previousOwner)
	return &types.Event{Type: EventTypeTransferred, Attributes: attrs}
}

// NewAddressesUpdatedEvent returns the payload emitted when the resolved
// address list is replaced.
func NewAddressesUpdatedEvent(rec *DomainRecord) *types.Event {
	attrs := recordAttributes(rec)
	attrs["addresses"] = encodeAddresses(rec.Addresses)
	return &types.Event{Type: EventTypeAddressesUpdated, Attributes: attrs}
}

// NewConfigUpdatedEvent returns the payload emitted when the authority changes
// a registry setting.
func NewConfigUpdatedEvent(cfg *RegistryConfig, field string) *types.Event {
	return &types.Event{
		Type: EventTypeConfigUpdated,
		Attributes: map[string]string{
			"field":              field,
			"authority":          crypto.FormatIdentity(cfg.Authority),
			"basePriceUsdCents":  formatUint(cfg.BasePriceUSDCents),
			"gracePeriodSeconds": formatTime(cfg.GracePeriodSeconds),
			"paused":             strconv.FormatBool(cfg.Paused),
		},
	}
}

// NewFeesWithdrawnEvent returns the payload emitted when the authority drains
// collected fees.
func NewFeesWithdrawnEvent(to [20]byte, amount uint64) *types.Event {
	return &types.Event{
		Type: EventTypeFeesWithdrawn,
		Attributes: map[string]string{
			"to":     crypto.FormatIdentity(to),
			"amount": formatUint(amount),
		},
	}
}

// NewExpiryOverriddenEvent returns the payload emitted when the authority
// corrects a record's expiry.
func NewExpiryOverriddenEvent(rec *DomainRecord, oldExpiry int64) *types.Event {
	attrs := recordAttributes(rec)
	attrs["oldExpiry"] = formatTime(oldExpiry)
	attrs["newExpiry"] = formatTime(rec.ExpiresAt)
	return &types.Event{Type: EventTypeExpiryOverridden, Attributes: attrs}
}

package domain

import (
	"fmt"
	"strings"
)

// Priority values accepted by the provider.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// MaxTimeToLive is the longest time (in seconds) the provider stores a message, 4 weeks.
const MaxTimeToLive = 2419200

// Options are delivery parameters merged into the top level of the payload.
type Options struct {
	CollapseKey              *string `json:"collapse_key,omitempty"`
	Priority                 *string `json:"priority,omitempty"`
	ContentAvailable         *bool   `json:"content_available,omitempty"`
	DelayWhileIdle           *bool   `json:"delay_while_idle,omitempty"`
	TimeToLive               *int    `json:"time_to_live,omitempty"`
	DeliveryReceiptRequested *bool   `json:"delivery_receipt_requested,omitempty"`
	RestrictedPackageName    *string `json:"restricted_package_name,omitempty"`
	DryRun                   *bool   `json:"dry_run,omitempty"`
}

// Fields returns the set options keyed by their wire name. Set-but-falsy
// values such as dry_run=false are kept.
func (o Options) Fields() map[string]any {
	fields := make(map[string]any)

	putString(fields, "collapse_key", o.CollapseKey)
	putString(fields, "priority", o.Priority)
	putBool(fields, "content_available", o.ContentAvailable)
	putBool(fields, "delay_while_idle", o.DelayWhileIdle)
	putInt(fields, "time_to_live", o.TimeToLive)
	putBool(fields, "delivery_receipt_requested", o.DeliveryReceiptRequested)
	putString(fields, "restricted_package_name", o.RestrictedPackageName)
	putBool(fields, "dry_run", o.DryRun)

	return fields
}

func (o Options) Validate() error {
	if o.Priority != nil {
		switch strings.ToLower(strings.TrimSpace(*o.Priority)) {
		case PriorityNormal, PriorityHigh:
		default:
			return fmt.Errorf("%w: invalid priority %q", ErrValidation, *o.Priority)
		}
	}
	if o.TimeToLive != nil && (*o.TimeToLive < 0 || *o.TimeToLive > MaxTimeToLive) {
		return fmt.Errorf("%w: time_to_live must be between 0 and %d (got %d)", ErrValidation, MaxTimeToLive, *o.TimeToLive)
	}
	return nil
}

// normalize rewrites values that Validate accepts case-insensitively into
// the form the provider expects.
func (o *Options) normalize() {
	if o.Priority != nil {
		priority := strings.ToLower(strings.TrimSpace(*o.Priority))
		o.Priority = &priority
	}
}

func (o Options) clone() Options {
	return Options{
		CollapseKey:              cloneString(o.CollapseKey),
		Priority:                 cloneString(o.Priority),
		ContentAvailable:         cloneBool(o.ContentAvailable),
		DelayWhileIdle:           cloneBool(o.DelayWhileIdle),
		TimeToLive:               cloneInt(o.TimeToLive),
		DeliveryReceiptRequested: cloneBool(o.DeliveryReceiptRequested),
		RestrictedPackageName:    cloneString(o.RestrictedPackageName),
		DryRun:                   cloneBool(o.DryRun),
	}
}

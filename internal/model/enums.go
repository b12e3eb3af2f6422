package model

import (
	"database/sql/driver"
	"strings"

	"github.com/lib/pq"
)

// Channel is one delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Channels lists every supported channel in dispatch order.
var Channels = []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// ChannelList is an ordered channel set persisted as a text[] column.
type ChannelList []Channel

func (l ChannelList) Contains(c Channel) bool {
	for _, x := range l {
		if x == c {
			return true
		}
	}
	return false
}

// Dedup drops repeated channels, keeping the first occurrence.
func (l ChannelList) Dedup() ChannelList {
	seen := make(map[Channel]struct{}, len(l))
	out := make(ChannelList, 0, len(l))
	for _, c := range l {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (l ChannelList) Strings() []string {
	out := make([]string, len(l))
	for i, c := range l {
		out[i] = string(c)
	}
	return out
}

func ParseChannelList(in []string) ChannelList {
	out := make(ChannelList, 0, len(in))
	for _, s := range in {
		out = append(out, Channel(strings.TrimSpace(s)))
	}
	return out
}

// NotificationKind is the semantic category of an event.
type NotificationKind string

const (
	KindLoadOpportunity  NotificationKind = "load_opportunity"
	KindLoadStatusUpdate NotificationKind = "load_status_update"
	KindLoadAssigned     NotificationKind = "load_assigned"
	KindDeliveryReminder NotificationKind = "delivery_reminder"
	KindDocumentRequired NotificationKind = "document_required"
	KindPaymentProcessed NotificationKind = "payment_processed"
	KindComplianceAlert  NotificationKind = "compliance_alert"
	KindSystemAlert      NotificationKind = "system_alert"
	KindMessageReceived  NotificationKind = "message_received"
	KindAccountUpdate    NotificationKind = "account_update"
)

// defaultChannels is the lookup table used when a user has no stored preference.
var defaultChannels = map[NotificationKind]ChannelList{
	KindLoadOpportunity:  {ChannelPush, ChannelInApp},
	KindLoadStatusUpdate: {ChannelInApp},
	KindLoadAssigned:     {ChannelPush, ChannelEmail, ChannelInApp},
	KindDeliveryReminder: {ChannelPush, ChannelInApp},
	KindDocumentRequired: {ChannelEmail, ChannelInApp},
	KindPaymentProcessed: {ChannelEmail, ChannelInApp},
	KindComplianceAlert:  {ChannelPush, ChannelEmail, ChannelInApp},
	KindSystemAlert:      {ChannelPush, ChannelEmail, ChannelInApp},
	KindMessageReceived:  {ChannelPush, ChannelInApp},
	KindAccountUpdate:    {ChannelEmail, ChannelInApp},
}

func (k NotificationKind) Valid() bool {
	_, ok := defaultChannels[k]
	return ok
}

// DefaultChannels returns a copy of the default channel set for the kind.
func (k NotificationKind) DefaultChannels() ChannelList {
	chans, ok := defaultChannels[k]
	if !ok {
		return ChannelList{ChannelInApp}
	}
	return append(ChannelList(nil), chans...)
}

// Title turns "load_opportunity" into "Load opportunity".
func (k NotificationKind) Title() string {
	s := strings.ReplaceAll(string(k), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// UserType is the role tag a recipient is addressed by.
type UserType string

const (
	UserTypeDriver     UserType = "driver"
	UserTypeCarrier    UserType = "carrier"
	UserTypeShipper    UserType = "shipper"
	UserTypeDispatcher UserType = "dispatcher"
	UserTypeAdmin      UserType = "admin"
)

func (u UserType) Valid() bool {
	switch u {
	case UserTypeDriver, UserTypeCarrier, UserTypeShipper, UserTypeDispatcher, UserTypeAdmin:
		return true
	}
	return false
}

func (l ChannelList) Value() (driver.Value, error) {
	return pq.StringArray(l.Strings()).Value()
}

func (l *ChannelList) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*l = ParseChannelList(arr)
	return nil
}

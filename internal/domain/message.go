package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// MaxRegistrationIDs is the provider limit of recipients per multicast request.
const MaxRegistrationIDs = 1000

// MessageParams describes a Message to build. Exactly one of To or
// RegistrationIDs must be set. It is also the queued form of a Message.
type MessageParams struct {
	To              string         `json:"to,omitempty"`
	RegistrationIDs []string       `json:"registration_ids,omitempty"`
	Data            map[string]any `json:"data"`
	Notification    *Notification  `json:"notification,omitempty"`
	Options         *Options       `json:"options,omitempty"`
}

// Message is a validated, immutable send request.
type Message struct {
	to              string
	registrationIDs []string
	data            map[string]any
	notification    *Notification
	options         *Options
}

func NewMessage(params MessageParams) (*Message, error) {
	to := strings.TrimSpace(params.To)
	hasTo := to != ""
	hasIDs := len(params.RegistrationIDs) > 0

	switch {
	case !hasTo && !hasIDs:
		return nil, ErrMissingTarget
	case hasTo && hasIDs:
		return nil, ErrConflictingTarget
	}

	for i, id := range params.RegistrationIDs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: registration_ids[%d] is empty", ErrValidation, i)
		}
	}

	m := &Message{
		to:              to,
		registrationIDs: cloneStrings(params.RegistrationIDs),
	}
	if params.Data != nil {
		m.data = maps.Clone(params.Data)
	}
	if params.Notification != nil {
		n := params.Notification.clone()
		m.notification = &n
	}
	if params.Options != nil {
		if err := params.Options.Validate(); err != nil {
			return nil, err
		}
		o := params.Options.clone()
		o.normalize()
		m.options = &o
	}

	return m, nil
}

// BuildRetryMessage returns a copy of original addressed only to recipients.
func BuildRetryMessage(original *Message, recipients []string) (*Message, error) {
	if original == nil {
		return nil, fmt.Errorf("%w: original message is required", ErrValidation)
	}
	if len(recipients) == 0 {
		return nil, ErrNothingToRetry
	}

	return NewMessage(MessageParams{
		RegistrationIDs: recipients,
		Data:            original.data,
		Notification:    original.notification,
		Options:         original.options,
	})
}

// Params returns the parameters that rebuild m with NewMessage.
func (m *Message) Params() MessageParams {
	return MessageParams{
		To:              m.to,
		RegistrationIDs: m.RegistrationIDs(),
		Data:            m.Data(),
		Notification:    m.Notification(),
		Options:         m.Options(),
	}
}

func (m *Message) To() string { return m.to }

// RegistrationIDs returns a copy of the multicast recipients.
func (m *Message) RegistrationIDs() []string { return cloneStrings(m.registrationIDs) }

func (m *Message) IsMulticast() bool { return len(m.registrationIDs) > 0 }

// Recipients returns the addressed recipients: the registration ids, or the
// single to target.
func (m *Message) Recipients() []string {
	if m.IsMulticast() {
		return m.RegistrationIDs()
	}
	return []string{m.to}
}

func (m *Message) Data() map[string]any {
	if m.data == nil {
		return nil
	}
	return maps.Clone(m.data)
}

func (m *Message) Notification() *Notification {
	if m.notification == nil {
		return nil
	}
	n := m.notification.clone()
	return &n
}

func (m *Message) Options() *Options {
	if m.options == nil {
		return nil
	}
	o := m.options.clone()
	return &o
}

// Body returns the wire payload. Options are flattened into the top level.
func (m *Message) Body() map[string]any {
	payload := make(map[string]any)

	if m.IsMulticast() {
		payload["registration_ids"] = m.RegistrationIDs()
	} else {
		payload["to"] = m.to
	}

	if m.notification != nil {
		payload["notification"] = m.notification.Fields()
	}

	if m.options != nil {
		for key, value := range m.options.Fields() {
			payload[key] = value
		}
	}

	if m.data != nil {
		payload["data"] = maps.Clone(m.data)
	}

	return payload
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Body())
}

// Split breaks a multicast message into messages of at most size recipients,
// keeping recipient order. Single-target messages are returned as is.
func (m *Message) Split(size int) []*Message {
	if size <= 0 || size > MaxRegistrationIDs {
		size = MaxRegistrationIDs
	}
	if !m.IsMulticast() || len(m.registrationIDs) <= size {
		return []*Message{m}
	}

	chunks := make([]*Message, 0, (len(m.registrationIDs)+size-1)/size)
	for start := 0; start < len(m.registrationIDs); start += size {
		end := min(start+size, len(m.registrationIDs))
		chunks = append(chunks, &Message{
			registrationIDs: cloneStrings(m.registrationIDs[start:end]),
			data:            m.data,
			notification:    m.notification,
			options:         m.options,
		})
	}
	return chunks
}

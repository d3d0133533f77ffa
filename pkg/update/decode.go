package update

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/gjson"
)

// Wire envelope for webhook deliveries: object/entry[]/changes[]/value.

type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type changeValue struct {
	MessagingProduct string        `json:"messaging_product"`
	Metadata         metadata      `json:"metadata"`
	Messages         []wireMessage `json:"messages,omitempty"`
	Statuses         []wireStatus  `json:"statuses,omitempty"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type wireMessage struct {
	From        string          `json:"from"`
	ID          string          `json:"id"`
	Timestamp   string          `json:"timestamp"`
	Type        string          `json:"type"`
	Text        *wireText       `json:"text,omitempty"`
	Interactive json.RawMessage `json:"interactive,omitempty"`
	Button      *wireButton     `json:"button,omitempty"`
}

type wireText struct {
	Body string `json:"body"`
}

type wireButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type wireStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

const fieldMessages = "messages"
const fieldTemplateStatus = "message_template_status_update"
const fieldCalls = "calls"

// Decode parses one webhook delivery body into zero or more updates.
// Decoding the same bytes twice yields updates with equal IDs, which is what
// makes the dedup guard effective against platform redeliveries.
func Decode(raw []byte) ([]*Update, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse webhook envelope: %w", err)
	}

	var updates []*Update
	for _, ent := range env.Entry {
		for _, ch := range ent.Changes {
			updates = append(updates, decodeChange(ch)...)
		}
	}

	return updates, nil
}

func decodeChange(ch change) []*Update {
	switch ch.Field {
	case fieldMessages:
		return decodeMessagesChange(ch.Value)
	case fieldTemplateStatus:
		return []*Update{decodeTemplateStatus(ch.Value)}
	case fieldCalls:
		return decodeCalls(ch.Value)
	default:
		return []*Update{{
			ID:   derivedID("raw", ch.Value),
			Kind: KindRaw,
			Raw:  ch.Value,
		}}
	}
}

func decodeMessagesChange(raw json.RawMessage) []*Update {
	var value changeValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return []*Update{{ID: derivedID("raw", raw), Kind: KindRaw, Raw: raw}}
	}

	recipient := value.Metadata.PhoneNumberID
	var updates []*Update

	for _, msg := range value.Messages {
		u := &Update{
			ID:        msg.ID,
			Identity:  Identity{SenderID: msg.From, RecipientID: recipient},
			Timestamp: unixTimestamp(msg.Timestamp),
			Raw:       raw,
		}
		applyMessageKind(u, msg)
		updates = append(updates, u)
	}

	for _, st := range value.Statuses {
		updates = append(updates, &Update{
			// One message produces several status events over its life, so
			// the status value participates in the id.
			ID:        st.ID + ":" + st.Status,
			Kind:      KindStatusChange,
			Identity:  Identity{SenderID: st.RecipientID, RecipientID: recipient},
			Timestamp: unixTimestamp(st.Timestamp),
			Status:    st.Status,
			Raw:       raw,
		})
	}

	if len(updates) == 0 {
		updates = append(updates, &Update{ID: derivedID("raw", raw), Kind: KindRaw, Raw: raw})
	}

	return updates
}

func applyMessageKind(u *Update, msg wireMessage) {
	if len(msg.Interactive) > 0 {
		applyInteractive(u, msg.Interactive)
		return
	}

	switch msg.Type {
	case "button":
		// Quick-reply button on a template message.
		u.Kind = KindButtonClick
		if msg.Button != nil {
			u.ButtonID = msg.Button.Payload
			u.ButtonTitle = msg.Button.Text
		}
	default:
		u.Kind = KindMessage
		if msg.Text != nil {
			u.Text = msg.Text.Body
		}
	}
}

func applyInteractive(u *Update, interactive json.RawMessage) {
	kind := gjson.GetBytes(interactive, "type").String()
	switch kind {
	case "button_reply":
		u.Kind = KindButtonClick
		u.ButtonID = gjson.GetBytes(interactive, "button_reply.id").String()
		u.ButtonTitle = gjson.GetBytes(interactive, "button_reply.title").String()
	case "list_reply":
		u.Kind = KindSelection
		u.SelectionID = gjson.GetBytes(interactive, "list_reply.id").String()
		u.SelectionTitle = gjson.GetBytes(interactive, "list_reply.title").String()
	case "nfm_reply":
		u.Kind = KindFlowCompletion
		u.FlowToken = gjson.GetBytes(interactive, "nfm_reply.flow_token").String()
		u.FlowResponse = gjson.GetBytes(interactive, "nfm_reply.response_json").String()
	default:
		u.Kind = KindMessage
	}
}

func decodeTemplateStatus(raw json.RawMessage) *Update {
	return &Update{
		ID:            derivedID("template", raw),
		Kind:          KindTemplateStatus,
		TemplateID:    gjson.GetBytes(raw, "message_template_id").String(),
		TemplateEvent: gjson.GetBytes(raw, "event").String(),
		Raw:           raw,
	}
}

func decodeCalls(raw json.RawMessage) []*Update {
	recipient := gjson.GetBytes(raw, "metadata.phone_number_id").String()

	var updates []*Update
	gjson.GetBytes(raw, "calls").ForEach(func(_, call gjson.Result) bool {
		event := call.Get("event").String()
		updates = append(updates, &Update{
			ID:        call.Get("id").String() + ":" + event,
			Kind:      KindCallEvent,
			Identity:  Identity{SenderID: call.Get("from").String(), RecipientID: recipient},
			Timestamp: unixTimestamp(call.Get("timestamp").String()),
			CallID:    call.Get("id").String(),
			CallEvent: event,
			Raw:       raw,
		})
		return true
	})

	if len(updates) == 0 {
		updates = append(updates, &Update{ID: derivedID("raw", raw), Kind: KindRaw, Raw: raw})
	}

	return updates
}

// derivedID builds a stable content-derived id for changes that carry no
// natural event id of their own.
func derivedID(prefix string, raw []byte) string {
	return fmt.Sprintf("%s-%016x", prefix, xxhash.Sum64(raw))
}

func unixTimestamp(value string) time.Time {
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

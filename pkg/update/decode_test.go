package update

import (
	"fmt"
	"testing"
)

func deliveryBody(changes string) []byte {
	return fmt.Appendf(nil, `{"object":"whatsapp_business_account","entry":[{"id":"1234","changes":[%s]}]}`, changes)
}

const textMessageChange = `{"field":"messages","value":{
	"messaging_product":"whatsapp",
	"metadata":{"display_phone_number":"15550001111","phone_number_id":"phone-1"},
	"contacts":[{"profile":{"name":"Ada"},"wa_id":"4478001"}],
	"messages":[{"from":"4478001","id":"wamid.AAA","timestamp":"1726000000","type":"text","text":{"body":"hello"}}]
}}`

func TestDecodeTextMessage(t *testing.T) {
	updates, err := Decode(deliveryBody(textMessageChange))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}

	u := updates[0]
	if u.Kind != KindMessage {
		t.Fatalf("kind = %q, want %q", u.Kind, KindMessage)
	}
	if u.ID != "wamid.AAA" {
		t.Fatalf("id = %q, want %q", u.ID, "wamid.AAA")
	}
	if u.Text != "hello" {
		t.Fatalf("text = %q, want %q", u.Text, "hello")
	}
	want := Identity{SenderID: "4478001", RecipientID: "phone-1"}
	if u.Identity != want {
		t.Fatalf("identity = %v, want %v", u.Identity, want)
	}
	if u.Timestamp.Unix() != 1726000000 {
		t.Fatalf("timestamp = %v, want unix 1726000000", u.Timestamp)
	}
	if !u.HasIdentity() {
		t.Fatal("expected identity-bearing update")
	}
}

func TestDecodeInteractiveReplies(t *testing.T) {
	tests := []struct {
		name        string
		interactive string
		wantKind    Kind
		check       func(t *testing.T, u *Update)
	}{
		{
			name:        "button reply",
			interactive: `{"type":"button_reply","button_reply":{"id":"confirm","title":"Confirm"}}`,
			wantKind:    KindButtonClick,
			check: func(t *testing.T, u *Update) {
				if u.ButtonID != "confirm" || u.ButtonTitle != "Confirm" {
					t.Fatalf("button = %q/%q, want confirm/Confirm", u.ButtonID, u.ButtonTitle)
				}
			},
		},
		{
			name:        "list reply",
			interactive: `{"type":"list_reply","list_reply":{"id":"opt-2","title":"Second"}}`,
			wantKind:    KindSelection,
			check: func(t *testing.T, u *Update) {
				if u.SelectionID != "opt-2" || u.SelectionTitle != "Second" {
					t.Fatalf("selection = %q/%q, want opt-2/Second", u.SelectionID, u.SelectionTitle)
				}
			},
		},
		{
			name:        "flow completion",
			interactive: `{"type":"nfm_reply","nfm_reply":{"flow_token":"tok-9","response_json":"{\"answer\":\"42\"}"}}`,
			wantKind:    KindFlowCompletion,
			check: func(t *testing.T, u *Update) {
				if u.FlowToken != "tok-9" {
					t.Fatalf("flow token = %q, want tok-9", u.FlowToken)
				}
				if u.FlowResponse == "" {
					t.Fatal("expected flow response json")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := fmt.Sprintf(`{"field":"messages","value":{
				"metadata":{"phone_number_id":"phone-1"},
				"messages":[{"from":"4478001","id":"wamid.BBB","timestamp":"1726000001","type":"interactive","interactive":%s}]
			}}`, tt.interactive)

			updates, err := Decode(deliveryBody(change))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if len(updates) != 1 {
				t.Fatalf("len(updates) = %d, want 1", len(updates))
			}
			if updates[0].Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", updates[0].Kind, tt.wantKind)
			}
			tt.check(t, updates[0])
		})
	}
}

func TestDecodeStatusChange(t *testing.T) {
	change := `{"field":"messages","value":{
		"metadata":{"phone_number_id":"phone-1"},
		"statuses":[{"id":"wamid.CCC","status":"delivered","timestamp":"1726000002","recipient_id":"4478001"}]
	}}`

	updates, err := Decode(deliveryBody(change))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}

	u := updates[0]
	if u.Kind != KindStatusChange {
		t.Fatalf("kind = %q, want %q", u.Kind, KindStatusChange)
	}
	if u.Status != "delivered" {
		t.Fatalf("status = %q, want delivered", u.Status)
	}
	if u.ID != "wamid.CCC:delivered" {
		t.Fatalf("id = %q, want wamid.CCC:delivered", u.ID)
	}
	if u.Identity.SenderID != "4478001" {
		t.Fatalf("sender = %q, want 4478001", u.Identity.SenderID)
	}
}

func TestDecodeTemplateStatusHasNoIdentity(t *testing.T) {
	change := `{"field":"message_template_status_update","value":{
		"event":"APPROVED","message_template_id":998877,"message_template_name":"welcome"
	}}`

	updates, err := Decode(deliveryBody(change))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}

	u := updates[0]
	if u.Kind != KindTemplateStatus {
		t.Fatalf("kind = %q, want %q", u.Kind, KindTemplateStatus)
	}
	if u.HasIdentity() {
		t.Fatal("template status must not carry an identity")
	}
	if u.TemplateEvent != "APPROVED" {
		t.Fatalf("template event = %q, want APPROVED", u.TemplateEvent)
	}
	if u.TemplateID != "998877" {
		t.Fatalf("template id = %q, want 998877", u.TemplateID)
	}
}

func TestDecodeCallEvent(t *testing.T) {
	change := `{"field":"calls","value":{
		"metadata":{"phone_number_id":"phone-1"},
		"calls":[{"id":"call-7","from":"4478001","event":"connect","timestamp":"1726000003"}]
	}}`

	updates, err := Decode(deliveryBody(change))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}

	u := updates[0]
	if u.Kind != KindCallEvent {
		t.Fatalf("kind = %q, want %q", u.Kind, KindCallEvent)
	}
	if u.CallID != "call-7" || u.CallEvent != "connect" {
		t.Fatalf("call = %q/%q, want call-7/connect", u.CallID, u.CallEvent)
	}
	if u.ID != "call-7:connect" {
		t.Fatalf("id = %q, want call-7:connect", u.ID)
	}
}

func TestDecodeUnknownFieldFallsBackToRaw(t *testing.T) {
	change := `{"field":"account_review_update","value":{"decision":"APPROVED"}}`

	updates, err := Decode(deliveryBody(change))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}

	u := updates[0]
	if u.Kind != KindRaw {
		t.Fatalf("kind = %q, want %q", u.Kind, KindRaw)
	}
	if got := u.Get("decision").String(); got != "APPROVED" {
		t.Fatalf("raw decision = %q, want APPROVED", got)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	body := deliveryBody(`{"field":"account_review_update","value":{"decision":"APPROVED"}}`)

	first, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	second, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if first[0].ID != second[0].ID {
		t.Fatalf("ids differ across decodes: %q vs %q", first[0].ID, second[0].ID)
	}
}

func TestDecodeRejectsMalformedBody(t *testing.T) {
	if _, err := Decode([]byte(`{"object":`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

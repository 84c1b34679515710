package event

import (
	"testing"
	"time"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{name: "receipt updated", eventType: TypeReceiptUpdated, want: true},
		{name: "receipt reset", eventType: TypeReceiptReset, want: true},
		{name: "upload applied", eventType: TypeUploadApplied, want: true},
		{name: "upload failed", eventType: TypeUploadFailed, want: true},
		{name: "upload cancelled", eventType: TypeUploadCancelled, want: true},
		{name: "receipt submitted", eventType: TypeReceiptSubmitted, want: true},
		{name: "unknown type", eventType: Type("unknown.type"), want: false},
		{name: "empty string", eventType: Type(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_String(t *testing.T) {
	if got := TypeReceiptUpdated.String(); got != "receipt.updated" {
		t.Errorf("Type.String() = %v, want %v", got, "receipt.updated")
	}
}

func TestKind_IsValid(t *testing.T) {
	if !KindExtracted.IsValid() || !KindUserEdited.IsValid() {
		t.Error("defined kinds should be valid")
	}
	if Kind("derived").IsValid() {
		t.Error("derived is not an update kind")
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(TypeUploadApplied, "session-1", "upload-1#p1", map[string]interface{}{
		"fields": 3,
	})

	if event.ID == "" {
		t.Error("Event ID should not be empty")
	}
	if event.Type != TypeUploadApplied {
		t.Errorf("Event Type = %v, want %v", event.Type, TypeUploadApplied)
	}
	if event.SessionID != "session-1" {
		t.Errorf("Event SessionID = %v, want %v", event.SessionID, "session-1")
	}
	if event.SourceID != "upload-1#p1" {
		t.Errorf("Event SourceID = %v, want %v", event.SourceID, "upload-1#p1")
	}
	if event.GetPayloadInt("fields") != 3 {
		t.Errorf("Event Payload[fields] = %v, want 3", event.Payload["fields"])
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("Event Timestamp should be recent")
	}

	empty := NewEvent(TypeReceiptReset, "session-1", "", nil)
	if empty.Payload == nil {
		t.Error("nil payload should be replaced by an empty map")
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeReceiptUpdated, "s", "src", map[string]interface{}{"key1": "value1"})
	modified := original.WithPayload("key2", "value2")

	if _, exists := original.Payload["key2"]; exists {
		t.Error("Original event should not be modified")
	}
	if modified.GetPayloadString("key1") != "value1" || modified.GetPayloadString("key2") != "value2" {
		t.Error("Modified event should carry both payload keys")
	}
	if modified.ID != original.ID || modified.SessionID != original.SessionID {
		t.Error("Modified event should keep identity fields")
	}
}

func TestEvent_GetPayload(t *testing.T) {
	event := NewEvent(TypeReceiptUpdated, "s", "", map[string]interface{}{
		"text":  "value",
		"int":   50,
		"int64": int64(7),
		"float": 75.5,
	})

	if got := event.GetPayloadString("int"); got != "" {
		t.Errorf("GetPayloadString(int) = %v, want empty", got)
	}
	if got := event.GetPayloadInt("int64"); got != 7 {
		t.Errorf("GetPayloadInt(int64) = %v, want 7", got)
	}
	if got := event.GetPayloadInt("float"); got != 75 {
		t.Errorf("GetPayloadInt(float) = %v, want 75", got)
	}
	if got := event.GetPayloadInt("missing"); got != 0 {
		t.Errorf("GetPayloadInt(missing) = %v, want 0", got)
	}
}

func TestNewUpdateEvent_CopiesFields(t *testing.T) {
	fields := PartialFieldMap{"grossInvoiceAmount": "29,90"}
	evt := NewUpdateEvent("upload-1", KindExtracted, fields)
	fields["grossInvoiceAmount"] = "0,00"

	if evt.Fields["grossInvoiceAmount"] != "29,90" {
		t.Errorf("event fields should be a copy, got %v", evt.Fields["grossInvoiceAmount"])
	}
	if evt.ID == "" || evt.SourceID != "upload-1" || evt.Kind != KindExtracted {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestUpdateEvent_WithField(t *testing.T) {
	original := NewUpdateEvent("form", KindUserEdited, nil)
	modified := original.WithField("purpose", "Projektbesprechung")

	if len(original.Fields) != 0 {
		t.Error("Original event should not be modified")
	}
	if modified.Fields["purpose"] != "Projektbesprechung" {
		t.Error("Modified event should carry the new field")
	}
	if modified.ID != original.ID {
		t.Error("Modified event should keep its ID")
	}
}

func TestUpdateEvent_IsEmpty(t *testing.T) {
	tests := []struct {
		name   string
		fields PartialFieldMap
		want   bool
	}{
		{"nil map", nil, true},
		{"only empty values", PartialFieldMap{"grossInvoiceAmount": "", "date": "  "}, true},
		{"one value", PartialFieldMap{"grossInvoiceAmount": "", "cardOrCashAmount": "105,00"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewUpdateEvent("x", KindExtracted, tt.fields).IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestTicket_Fields(t *testing.T) {
	typ := reflect.TypeOf(Ticket{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Title", "not null")
	assertGormTag(t, typ, "GroupID", "idx_ticket_group_state")
	assertGormTag(t, typ, "State", "default:new")
	assertGormTag(t, typ, "State", "idx_ticket_group_state")
	assertGormTag(t, typ, "CustomerHandle", "index")
	assertGormTag(t, typ, "UpdatedAt", "index")
	assertGormTag(t, typ, "Articles", "foreignKey:TicketID")

	assertFieldType(t, typ, "State", "models.TicketState")
	assertFieldType(t, typ, "ClosedAt", "*time.Time")
	assertFieldType(t, typ, "Articles", "[]models.Article")
}

func TestArticle_Fields(t *testing.T) {
	typ := reflect.TypeOf(Article{})

	assertGormTag(t, typ, "TicketID", "not null")
	assertGormTag(t, typ, "MessageID", "uniqueIndex")
	assertGormTag(t, typ, "InReplyTo", "index")
	assertGormTag(t, typ, "From", "column:from_handle")
	assertGormTag(t, typ, "To", "column:to_handle")
	assertGormTag(t, typ, "Body", "type:text")

	// Nullable: local notes and unpublished replies have no remote ID.
	assertFieldType(t, typ, "MessageID", "*string")
	assertFieldType(t, typ, "InReplyTo", "*string")
	assertFieldType(t, typ, "To", "*string")
}

func TestTicketHistory_Fields(t *testing.T) {
	typ := reflect.TypeOf(TicketHistory{})

	assertGormTag(t, typ, "TicketID", "index")
	assertGormTag(t, typ, "ToState", "not null")
	assertGormTag(t, typ, "Source", "not null")
	assertFieldType(t, typ, "FromState", "models.TicketState")
	assertFieldType(t, typ, "ArticleID", "*uint")
}

func TestChannel_Fields(t *testing.T) {
	typ := reflect.TypeOf(Channel{})

	assertGormTag(t, typ, "Name", "uniqueIndex")
	assertGormTag(t, typ, "Platform", "not null")
	assertGormTag(t, typ, "Options", "type:text")
	assertFieldType(t, typ, "Active", "bool")
}

func TestGroup_Fields(t *testing.T) {
	typ := reflect.TypeOf(Group{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Name", "uniqueIndex")
}

func TestChannelLock_Fields(t *testing.T) {
	typ := reflect.TypeOf(ChannelLock{})

	assertGormTag(t, typ, "ChannelID", "primaryKey")
	assertGormTag(t, typ, "ChannelID", "autoIncrement:false")
	assertFieldType(t, typ, "AcquiredAt", "*time.Time")
	assertFieldType(t, typ, "LastHeartbeat", "time.Time")
}

func TestSyncRun_Fields(t *testing.T) {
	typ := reflect.TypeOf(SyncRun{})

	assertGormTag(t, typ, "RunID", "uniqueIndex")
	assertGormTag(t, typ, "RunID", "size:36")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "Error", "type:text")
	assertFieldType(t, typ, "CompletedAt", "*time.Time")
}

func TestTicketState_Valid(t *testing.T) {
	for _, s := range []TicketState{TicketStateNew, TicketStateOpen, TicketStatePendingReminder, TicketStateClosed} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false, want true", s)
		}
	}
	for _, s := range []TicketState{"", "archived", "Open"} {
		if s.Valid() {
			t.Errorf("%q.Valid() = true, want false", s)
		}
	}
}

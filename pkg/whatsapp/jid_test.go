package whatsapp

import "testing"

func TestNormalizeJID_StripsDevicePart(t *testing.T) {
	got, err := NormalizeJID("972501234567:22@s.whatsapp.net")
	if err != nil {
		t.Fatalf("NormalizeJID: %v", err)
	}
	if got != "972501234567@s.whatsapp.net" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeJID_BareUser(t *testing.T) {
	got, err := NormalizeJID("972501234567")
	if err != nil {
		t.Fatalf("NormalizeJID: %v", err)
	}
	if got != "972501234567@s.whatsapp.net" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeJID_Empty(t *testing.T) {
	if _, err := NormalizeJID("  "); err == nil {
		t.Fatal("expected error for empty JID")
	}
}

func TestIsGroupJID(t *testing.T) {
	if !IsGroupJID("120363401598328725@g.us") {
		t.Error("group JID not recognized")
	}
	if IsGroupJID("972501234567@s.whatsapp.net") {
		t.Error("user JID classified as group")
	}
}

func TestIsGroup_ParsedJID(t *testing.T) {
	group, err := ParseJID("120363401598328725@g.us")
	if err != nil {
		t.Fatalf("ParseJID: %v", err)
	}
	if !IsGroup(group) {
		t.Error("parsed group JID not recognized")
	}

	user, err := ParseJID("972501234567@s.whatsapp.net")
	if err != nil {
		t.Fatalf("ParseJID: %v", err)
	}
	if IsGroup(user) {
		t.Error("parsed user JID classified as group")
	}
}

func TestSplitFromField(t *testing.T) {
	sender, group := SplitFromField("972501234567@s.whatsapp.net in 120363401598328725@g.us")
	if sender != "972501234567@s.whatsapp.net" || group != "120363401598328725@g.us" {
		t.Errorf("got sender=%q group=%q", sender, group)
	}

	sender, group = SplitFromField("972501234567@s.whatsapp.net")
	if sender != "972501234567@s.whatsapp.net" || group != "" {
		t.Errorf("got sender=%q group=%q", sender, group)
	}
}

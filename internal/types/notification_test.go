package types

import "testing"

func TestNotificationTypeValid(t *testing.T) {
	for _, v := range []NotificationType{NotificationTypeEmail, NotificationTypePush} {
		if !v.Valid() {
			t.Errorf("%q should be valid", v)
		}
	}
	for _, v := range []NotificationType{"", "sms", "EMAIL"} {
		if v.Valid() {
			t.Errorf("%q should be invalid", v)
		}
	}
}

func TestPriorityValid(t *testing.T) {
	for _, v := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		if !v.Valid() {
			t.Errorf("%q should be valid", v)
		}
	}
	for _, v := range []Priority{"", "urgent", "High"} {
		if v.Valid() {
			t.Errorf("%q should be invalid", v)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[NotificationStatusValue]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusRetry:      false,
		StatusDelivered:  true,
		StatusFailed:     true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%q.Terminal() = %v, want %v", s, got, want)
		}
	}
}

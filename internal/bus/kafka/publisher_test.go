package kafka

import "testing"

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Topic: "events"}); err == nil {
		t.Error("expected an error for missing brokers")
	}
	if _, err := New(Config{Brokers: []string{"broker:9092"}}); err == nil {
		t.Error("expected an error for a missing topic")
	}
}

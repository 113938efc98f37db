package pubsub

import "testing"

func TestDocumentTopic(t *testing.T) {
	got := DocumentTopic("synckit:", "doc-1")
	want := "synckit:doc:doc-1"
	if got != want {
		t.Errorf("DocumentTopic = %q, want %q", got, want)
	}
}

func TestAwarenessTopic(t *testing.T) {
	got := AwarenessTopic("synckit:", "doc-1")
	want := "synckit:awareness:doc-1"
	if got != want {
		t.Errorf("AwarenessTopic = %q, want %q", got, want)
	}
}

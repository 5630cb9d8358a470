package rabbitmq

import (
	"errors"
	"testing"
)

func TestDecodeJobID(t *testing.T) {
	id, err := DecodeJobID([]byte(`{"job_id":"01J0000000000000000000000"}`))
	if err != nil || id != "01J0000000000000000000000" {
		t.Fatalf("id=%q err=%v", id, err)
	}

	if _, err := DecodeJobID([]byte(`{}`)); !errors.Is(err, ErrBadMessage) {
		t.Fatalf("empty job id: err=%v", err)
	}
	if _, err := DecodeJobID([]byte(`nope`)); err == nil {
		t.Fatalf("expected json error")
	}
}

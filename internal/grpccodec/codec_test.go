package grpccodec

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

type sample struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	c := Codec{}
	in := sample{Hash: "abc123", Size: 42}

	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestNameMatchesRegisteredCodec(t *testing.T) {
	if Codec{}.Name() != Name {
		t.Errorf("Name() = %q, want %q", Codec{}.Name(), Name)
	}
	if encoding.GetCodec(Name) == nil {
		t.Error("codec not registered under Name; Register()/init() should have done this")
	}
}

func TestUnmarshalInvalidJSON(t *testing.T) {
	c := Codec{}
	var out sample
	if err := c.Unmarshal([]byte("{not json"), &out); err == nil {
		t.Error("Unmarshal of malformed JSON returned nil error")
	}
}

package wire

import "testing"

func TestAnnounceBodyRoundTrip(t *testing.T) {
	a := &AnnounceBody{Nickname: "alice", Caps: CapChannels | CapStoreAndForward}
	for i := range a.SigningPub {
		a.SigningPub[i] = byte(i)
	}
	b, err := a.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalAnnounceBody(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Nickname != a.Nickname || got.Caps != a.Caps || got.SigningPub != a.SigningPub {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAnnounceBodyTruncated(t *testing.T) {
	if _, err := UnmarshalAnnounceBody(make([]byte, 10)); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestAnnounceBodyNicknameTooLong(t *testing.T) {
	a := &AnnounceBody{Nickname: string(make([]byte, 256))}
	if _, err := a.Marshal(); err != ErrNicknameTooLong {
		t.Fatalf("expected ErrNicknameTooLong, got %v", err)
	}
}

package crypto

import "testing"

func runHandshake(t *testing.T) (initSession, respSession *Session) {
	t.Helper()
	initID, err := GenerateStaticIdentity()
	if err != nil {
		t.Fatal(err)
	}
	respID, err := GenerateStaticIdentity()
	if err != nil {
		t.Fatal(err)
	}

	initHS, msg1, err := NewInitiator(initID)
	if err != nil {
		t.Fatal(err)
	}
	respHS := NewResponder(respID)

	r1, err := respHS.Step(msg1)
	if err != nil {
		t.Fatalf("responder step 1: %v", err)
	}
	if r1.Session != nil {
		t.Fatal("responder should not finish after message 1")
	}

	r2, err := initHS.Step(r1.Outgoing)
	if err != nil {
		t.Fatalf("initiator step 2: %v", err)
	}
	if r2.Session == nil {
		t.Fatal("initiator should finish after message 2")
	}

	r3, err := respHS.Step(r2.Outgoing)
	if err != nil {
		t.Fatalf("responder step 3: %v", err)
	}
	if r3.Session == nil {
		t.Fatal("responder should finish after message 3")
	}

	if initHS.Fingerprint() != FingerprintOf(respID.SigningPub) {
		t.Fatal("initiator learned wrong remote fingerprint")
	}
	if respHS.Fingerprint() != FingerprintOf(initID.SigningPub) {
		t.Fatal("responder learned wrong remote fingerprint")
	}

	return r2.Session, r3.Session
}

func TestHandshakeEstablishesMatchingSessions(t *testing.T) {
	initSession, respSession := runHandshake(t)

	ct, counter, err := initSession.Seal([]byte("hello mesh"))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := respSession.Open(ct, counter)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != "hello mesh" {
		t.Fatalf("got %q", pt)
	}

	ct2, counter2, err := respSession.Seal([]byte("reply"))
	if err != nil {
		t.Fatal(err)
	}
	pt2, err := initSession.Open(ct2, counter2)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt2) != "reply" {
		t.Fatalf("got %q", pt2)
	}
}

func TestSessionRejectsReplayedCounter(t *testing.T) {
	initSession, respSession := runHandshake(t)

	ct, counter, err := initSession.Seal([]byte("once"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := respSession.Open(ct, counter); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := respSession.Open(ct, counter); err == nil {
		t.Fatal("replayed counter should be rejected")
	}
	if respSession.State() != StateClosed {
		t.Fatal("session should be poisoned after a replay")
	}
}

func TestSessionSealUpToMaxPayload(t *testing.T) {
	initSession, respSession := runHandshake(t)
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	ct, counter, err := initSession.Seal(payload)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := respSession.Open(ct, counter)
	if err != nil {
		t.Fatal(err)
	}
	if len(pt) != len(payload) {
		t.Fatalf("length mismatch: got %d want %d", len(pt), len(payload))
	}
	for i := range pt {
		if pt[i] != payload[i] {
			t.Fatalf("payload mismatch at byte %d", i)
		}
	}
}

func TestHandshakeRejectsTamperedSignature(t *testing.T) {
	initID, err := GenerateStaticIdentity()
	if err != nil {
		t.Fatal(err)
	}
	respID, err := GenerateStaticIdentity()
	if err != nil {
		t.Fatal(err)
	}

	initHS, msg1, err := NewInitiator(initID)
	if err != nil {
		t.Fatal(err)
	}
	respHS := NewResponder(respID)
	r1, err := respHS.Step(msg1)
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte(nil), r1.Outgoing...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := initHS.Step(tampered); err == nil {
		t.Fatal("tampered message 2 should fail")
	}
}

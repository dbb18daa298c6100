package ckey

import "testing"

func TestGenerateKeyProducesUsableSigner(t *testing.T) {
	s, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if len(s.PublicKeyHex()) != 64 {
		t.Errorf("public key hex length = %d, want 64", len(s.PublicKeyHex()))
	}
}

func TestFromPrivateKeyHexRoundTrip(t *testing.T) {
	s1, _ := GenerateKey()
	privHex := s1.PrivateKeyHex()

	s2, err := FromPrivateKeyHex(privHex)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if s2.AccountKey() != s1.AccountKey() {
		t.Error("account key mismatch after reload")
	}
}

func TestSignAndVerify(t *testing.T) {
	s, _ := GenerateKey()
	msg := []byte("transfer 100 to address 7")
	sig := s.Sign(msg)

	if !Verify(s.AccountKey(), msg, sig) {
		t.Error("expected signature to verify")
	}
	if Verify(s.AccountKey(), []byte("tampered"), sig) {
		t.Error("expected tampered message to fail verification")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	s1, _ := GenerateKey()
	s2, _ := GenerateKey()
	msg := []byte("hello")
	sig := s1.Sign(msg)
	if Verify(s2.AccountKey(), msg, sig) {
		t.Error("expected verification with wrong key to fail")
	}
}

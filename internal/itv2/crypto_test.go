package itv2

import (
	"bytes"
	"crypto/rand"
	"testing"
)

const (
	testType1Access = "12345678"
	testType1Ident  = "90123456"
	testType2Access = "000102030405060708090a0b0c0d0e0f"
)

// Two Type 2 handlers with the same access code, one per side, must agree
// on both directional keys.
func TestType2KeyAgreement(t *testing.T) {
	server, err := NewType2Encryption(testType2Access)
	if err != nil {
		t.Fatal(err)
	}
	peer, err := NewType2Encryption(testType2Access)
	if err != nil {
		t.Fatal(err)
	}

	// Peer announces its inbound key; that becomes our outbound key.
	peerInit, err := peer.ConfigureInboundEncryption()
	if err != nil {
		t.Fatal(err)
	}
	if len(peerInit) != 16 {
		t.Fatalf("type 2 initializer is %d bytes", len(peerInit))
	}
	if err := server.ConfigureOutboundEncryption(peerInit); err != nil {
		t.Fatal(err)
	}

	ourInit, err := server.ConfigureInboundEncryption()
	if err != nil {
		t.Fatal(err)
	}
	if err := peer.ConfigureOutboundEncryption(ourInit); err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{1, 16, 33} {
		plain := make([]byte, n)
		rand.Read(plain)

		wire, err := server.Encrypt(plain)
		if err != nil {
			t.Fatal(err)
		}
		back, err := peer.Decrypt(wire)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(back[:n], plain) {
			t.Errorf("len %d: round trip mismatch", n)
		}

		wire, err = peer.Encrypt(plain)
		if err != nil {
			t.Fatal(err)
		}
		back, err = server.Decrypt(wire)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(back[:n], plain) {
			t.Errorf("len %d: reverse round trip mismatch", n)
		}
	}
}

// Builds the peer side of a Type 1 exchange by hand: sample 32 bytes,
// publish the even half as check bytes, encrypt the lot under the
// identifier key.
func peerType1Initializer(t *testing.T, key []byte) (initializer, outKey []byte) {
	t.Helper()
	seed := make([]byte, 32)
	rand.Read(seed)
	check, odd := deinterleave(seed)
	cipher, err := ecb(key, seed, true)
	if err != nil {
		t.Fatal(err)
	}
	return append(check, cipher...), odd
}

func TestType1KeyAgreement(t *testing.T) {
	e, err := NewType1Encryption(testType1Access, testType1Ident)
	if err != nil {
		t.Fatal(err)
	}

	identKey, err := quadKey(testType1Ident)
	if err != nil {
		t.Fatal(err)
	}
	initializer, peerKey := peerType1Initializer(t, identKey)

	if err := e.ConfigureOutboundEncryption(initializer); err != nil {
		t.Fatal(err)
	}

	plain := []byte("the quick brown fox jumps over the lazy dog")
	wire, err := e.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ecb(peerKey, wire, false)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back[:len(plain)], plain) {
		t.Error("peer cannot decrypt with the negotiated key")
	}
}

func TestType1CheckByteMismatch(t *testing.T) {
	e, err := NewType1Encryption(testType1Access, testType1Ident)
	if err != nil {
		t.Fatal(err)
	}
	identKey, _ := quadKey(testType1Ident)
	initializer, _ := peerType1Initializer(t, identKey)
	initializer[0] ^= 0xFF

	if err := e.ConfigureOutboundEncryption(initializer); err == nil {
		t.Fatal("expected check byte mismatch")
	}
}

func TestType1InitializerShape(t *testing.T) {
	e, err := NewType1Encryption(testType1Access, testType1Ident)
	if err != nil {
		t.Fatal(err)
	}
	init, err := e.ConfigureInboundEncryption()
	if err != nil {
		t.Fatal(err)
	}
	if len(init) != 48 {
		t.Fatalf("type 1 initializer is %d bytes, want 48", len(init))
	}

	// The peer recovers our inbound key by decrypting under the access
	// key and checking the even bytes.
	accessKey, _ := quadKey(testType1Access)
	plain, err := ecb(accessKey, init[16:], false)
	if err != nil {
		t.Fatal(err)
	}
	even, odd := deinterleave(plain)
	if !bytes.Equal(even, init[:16]) {
		t.Error("check bytes do not match the decrypted seed")
	}

	// Traffic encrypted under the recovered key must decrypt inbound.
	msg := pad([]byte("hello panel"))
	wire, err := ecb(odd, msg, true)
	if err != nil {
		t.Fatal(err)
	}
	back, err := e.Decrypt(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, msg) {
		t.Error("inbound key disagrees with announced key")
	}
}

func TestActivationIsOneShot(t *testing.T) {
	e, err := NewType2Encryption(testType2Access)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ConfigureInboundEncryption(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ConfigureInboundEncryption(); err == nil {
		t.Error("second inbound activation succeeded")
	}

	init := make([]byte, 16)
	if err := e.ConfigureOutboundEncryption(init); err != nil {
		t.Fatal(err)
	}
	if err := e.ConfigureOutboundEncryption(init); err == nil {
		t.Error("second outbound activation succeeded")
	}
}

func TestPassthroughBeforeActivation(t *testing.T) {
	e, err := NewType2Encryption(testType2Access)
	if err != nil {
		t.Fatal(err)
	}
	plain := []byte{0x01, 0x02, 0x03}
	wire, err := e.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(wire, plain) {
		t.Error("unconfigured encrypt modified data")
	}
	back, err := e.Decrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, plain) {
		t.Error("unconfigured decrypt modified data")
	}
}

func TestBadKeyMaterial(t *testing.T) {
	if _, err := NewType2Encryption("zz"); err == nil {
		t.Error("short type 2 code accepted")
	}
	if _, err := NewType1Encryption("1234", testType1Ident); err == nil {
		t.Error("short type 1 code accepted")
	}
}

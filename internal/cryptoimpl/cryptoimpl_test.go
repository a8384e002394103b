package cryptoimpl

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrips(t *testing.T) {
	c := NewAESGCM()
	key := bytes.Repeat([]byte{0x42}, 32)
	plaintext := []byte("hello device")

	iv, ciphertext, tag, err := c.Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(iv) != 12 {
		t.Fatalf("got iv len %d, want 12", len(iv))
	}

	got, err := c.Open(key, iv, ciphertext, tag)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestOpenFailsOnWrongKey(t *testing.T) {
	c := NewAESGCM()
	key := bytes.Repeat([]byte{0x01}, 32)
	wrongKey := bytes.Repeat([]byte{0x02}, 32)

	iv, ciphertext, tag, err := c.Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := c.Open(wrongKey, iv, ciphertext, tag); err == nil {
		t.Fatalf("expected Open to fail under the wrong key")
	}
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	c := NewAESGCM()
	key := bytes.Repeat([]byte{0x01}, 32)

	iv, ciphertext, tag, err := c.Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ciphertext[0] ^= 0xFF

	if _, err := c.Open(key, iv, ciphertext, tag); err == nil {
		t.Fatalf("expected Open to reject tampered ciphertext")
	}
}

func TestSealProducesFreshIVEachCall(t *testing.T) {
	c := NewAESGCM()
	key := bytes.Repeat([]byte{0x03}, 32)

	iv1, _, _, _ := c.Seal(key, []byte("a"))
	iv2, _, _, _ := c.Seal(key, []byte("a"))
	if bytes.Equal(iv1, iv2) {
		t.Fatalf("expected distinct IVs across calls")
	}
}

func TestHKDFDeriverProducesRequestedLength(t *testing.T) {
	d := NewHKDFDeriver()
	secret := []byte("arbitrary length shared secret material")

	key, err := d.Derive(secret, 32)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("got len %d, want 32", len(key))
	}

	key16, err := d.Derive(secret, 16)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if len(key16) != 16 {
		t.Fatalf("got len %d, want 16", len(key16))
	}
}

func TestHKDFDeriverIsDeterministic(t *testing.T) {
	d := NewHKDFDeriver()
	secret := []byte("same secret every time")

	k1, _ := d.Derive(secret, 32)
	k2, _ := d.Derive(secret, 32)
	if !bytes.Equal(k1, k2) {
		t.Fatalf("expected deterministic derivation for the same secret")
	}
}

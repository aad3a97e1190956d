package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(BidPrefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(BidPrefix)+"1") {
		t.Fatalf("unexpected encoding prefix: %q", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Prefix() != BidPrefix {
		t.Fatalf("prefix lost: %q", decoded.Prefix())
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("payload mismatch: %x", decoded.Bytes())
	}
}

func TestDecodeAddressRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"not-bech32",
		"bid1qqqq", // too short for a 20-byte payload
	}
	for _, input := range cases {
		if _, err := DecodeAddress(input); err == nil {
			t.Fatalf("expected rejection for %q", input)
		}
	}
}

func TestGeneratedKeysRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if key.PubKey().Address().String() != restored.PubKey().Address().String() {
		t.Fatal("restored key derives a different address")
	}

	other, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if key.PubKey().Address().String() == other.PubKey().Address().String() {
		t.Fatal("distinct keys must derive distinct addresses")
	}
}

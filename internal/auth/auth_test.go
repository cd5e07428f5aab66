package auth

import (
	"strings"
	"testing"
)

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	if !strings.HasPrefix(secret, SecretPrefix) {
		t.Errorf("secret %q does not start with %q", secret, SecretPrefix)
	}

	// base62 encoding of 32 bytes is ~43 chars
	body := strings.TrimPrefix(secret, SecretPrefix)
	if len(body) < 40 || len(body) > 44 {
		t.Errorf("body length = %d, want 40-44 (base62 of 32 bytes)", len(body))
	}
	for _, c := range body {
		if !isBase62(c) {
			t.Errorf("secret contains invalid character: %c", c)
		}
	}

	if err := ParseSecret(secret); err != nil {
		t.Errorf("ParseSecret rejected a generated secret: %v", err)
	}
}

func TestGenerateSecretUniqueness(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)

	for i := 0; i < n; i++ {
		secret, err := GenerateSecret()
		if err != nil {
			t.Fatalf("GenerateSecret failed: %v", err)
		}
		if _, dup := seen[secret]; dup {
			t.Fatalf("duplicate secret generated after %d calls", i)
		}
		seen[secret] = struct{}{}
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	secret := "test-secret-value"

	hash1 := HashSecret(secret)
	hash2 := HashSecret(secret)

	if !CompareHash(hash1, hash2) {
		t.Error("HashSecret is not deterministic")
	}
	if len(hash1) != 32 {
		t.Errorf("hash length = %d, want 32 (SHA256)", len(hash1))
	}

	hash3 := HashSecret("different-secret")
	if CompareHash(hash1, hash3) {
		t.Error("HashSecret should produce different results with different secret")
	}
}

func TestHashSecretAcceptsAnyInput(t *testing.T) {
	for _, in := range []string{"", "tlv_", "\x00\xff", strings.Repeat("x", 1<<16)} {
		if got := HashSecret(in); len(got) != 32 {
			t.Errorf("HashSecret(%q...) length = %d", in[:min(len(in), 8)], len(got))
		}
	}
}

func TestPrefixHint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"tlv_abcdefghijk", "tlv_abcd"},
		{"tlv_ab", "tlv_ab"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := PrefixHint(tt.in); got != tt.want {
			t.Errorf("PrefixHint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSecret(t *testing.T) {
	valid := SecretPrefix + strings.Repeat("aB3", 14)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: valid, wantErr: false},
		{name: "missing prefix", input: strings.TrimPrefix(valid, SecretPrefix), wantErr: true},
		{name: "wrong prefix", input: "sk_" + strings.TrimPrefix(valid, SecretPrefix), wantErr: true},
		{name: "body too short", input: SecretPrefix + "abc", wantErr: true},
		{name: "body too long", input: SecretPrefix + strings.Repeat("a", 45), wantErr: true},
		{name: "non base62", input: SecretPrefix + strings.Repeat("a_", 21), wantErr: true},
		{name: "empty string", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseSecret(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSecret(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestEncodeBase62PreservesLeadingZeros(t *testing.T) {
	if got := encodeBase62([]byte{0, 0, 1}); got != "001" {
		t.Errorf("encodeBase62 = %q, want %q", got, "001")
	}
	if got := encodeBase62([]byte{0}); got != "0" {
		t.Errorf("encodeBase62 = %q, want %q", got, "0")
	}
	if got := encodeBase62([]byte{62}); got != "10" {
		t.Errorf("encodeBase62 = %q, want %q", got, "10")
	}
}

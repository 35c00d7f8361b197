package security

import "testing"

func TestEncryptDecryptProxySecret(t *testing.T) {
	t.Setenv("ROOKERY_SECRET_KEY", "secret-test-key")
	ResetProxyCipherForTests()
	t.Cleanup(ResetProxyCipherForTests)

	encrypted, err := EncryptProxySecret("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if encrypted == "hunter2" || encrypted == "" {
		t.Fatalf("ciphertext looks wrong: %q", encrypted)
	}

	plaintext, err := DecryptProxySecret(encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "hunter2" {
		t.Fatalf("decrypted %q, want hunter2", plaintext)
	}
}

func TestEncryptProxySecretRequiresKey(t *testing.T) {
	t.Setenv("ROOKERY_SECRET_KEY", "")
	ResetProxyCipherForTests()
	t.Cleanup(ResetProxyCipherForTests)

	if _, err := EncryptProxySecret("hunter2"); err == nil {
		t.Fatal("expected error when no key is configured")
	}
}

func TestDecryptProxySecretRejectsGarbage(t *testing.T) {
	t.Setenv("ROOKERY_SECRET_KEY", "secret-test-key")
	ResetProxyCipherForTests()
	t.Cleanup(ResetProxyCipherForTests)

	if _, err := DecryptProxySecret("bm90LWEtcmVhbC1zZWNyZXQ="); err == nil {
		t.Fatal("expected error for undecryptable payload")
	}
}

package profile

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestGenerateProducesCompleteIdentity(t *testing.T) {
	gen := NewGenerator()
	identity, err := gen.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if identity.Username == "" || identity.Password == "" {
		t.Fatalf("identity missing credentials: %+v", identity)
	}
	if len(identity.Password) != 16 {
		t.Fatalf("password length = %d, want 16", len(identity.Password))
	}
	if identity.FirstName == "" || identity.LastName == "" || identity.Locale == "" {
		t.Fatalf("identity missing names: %+v", identity)
	}

	birth, err := time.Parse("2006-01-02", identity.BirthDate)
	if err != nil {
		t.Fatalf("birth date %q does not parse: %v", identity.BirthDate, err)
	}
	age := time.Since(birth)
	if age < 19*365*24*time.Hour || age > 46*365*24*time.Hour {
		t.Fatalf("age out of range: %v", identity.BirthDate)
	}
}

func TestGenerateAvoidsUsernameCollisions(t *testing.T) {
	gen := NewGenerator()
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		identity, err := gen.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if _, dup := seen[identity.Username]; dup {
			t.Fatalf("duplicate username after %d draws: %s", i, identity.Username)
		}
		seen[identity.Username] = struct{}{}
	}
}

func TestNextReturnsValidJSON(t *testing.T) {
	gen := NewGenerator()
	payload, err := gen.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	var identity Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		t.Fatalf("payload is not valid json: %v", err)
	}
	if identity.Username == "" {
		t.Fatal("payload missing username")
	}
}

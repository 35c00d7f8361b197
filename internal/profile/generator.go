// Package profile generates the synthetic identities fed into signup
// attempts.
package profile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Identity is the payload one signup attempt works with.
type Identity struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
	Locale    string `json:"locale"`
}

var firstNames = []string{
	"alex", "casey", "jordan", "morgan", "riley", "taylor", "quinn", "avery",
	"jamie", "drew", "blake", "reese", "emerson", "rowan", "sage", "finley",
}

var lastNames = []string{
	"walker", "reed", "hayes", "brooks", "gray", "ellis", "ford", "lane",
	"marsh", "nash", "pierce", "stone", "vaughn", "wells", "york", "dale",
}

var locales = []string{"en-US", "en-GB", "de-DE", "fr-FR", "nl-NL"}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#%*+-"

// Generator produces identities with crypto-grade randomness; two processes
// generating in parallel must never collide on usernames.
type Generator struct {
	usernameSuffixLen int
	passwordLen       int
}

func NewGenerator() *Generator {
	return &Generator{
		usernameSuffixLen: 6,
		passwordLen:       16,
	}
}

// Next implements the profile source contract.
func (g *Generator) Next(_ context.Context) ([]byte, error) {
	identity, err := g.Generate()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(identity)
	if err != nil {
		return nil, fmt.Errorf("profile: marshal identity: %w", err)
	}
	return payload, nil
}

func (g *Generator) Generate() (Identity, error) {
	first, err := pick(firstNames)
	if err != nil {
		return Identity{}, err
	}
	last, err := pick(lastNames)
	if err != nil {
		return Identity{}, err
	}
	locale, err := pick(locales)
	if err != nil {
		return Identity{}, err
	}

	suffix, err := randomString("0123456789", g.usernameSuffixLen)
	if err != nil {
		return Identity{}, err
	}
	password, err := randomString(passwordAlphabet, g.passwordLen)
	if err != nil {
		return Identity{}, err
	}

	birthDate, err := randomBirthDate()
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Username:  fmt.Sprintf("%s.%s%s", first, last, suffix),
		Password:  password,
		FirstName: capitalize(first),
		LastName:  capitalize(last),
		BirthDate: birthDate,
		Locale:    locale,
	}, nil
}

func pick(values []string) (string, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(values))))
	if err != nil {
		return "", fmt.Errorf("profile: draw random index: %w", err)
	}
	return values[idx.Int64()], nil
}

func randomString(alphabet string, length int) (string, error) {
	var sb strings.Builder
	sb.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("profile: draw random character: %w", err)
		}
		sb.WriteByte(alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// randomBirthDate places the identity between 20 and 45 years old.
func randomBirthDate() (string, error) {
	days, err := rand.Int(rand.Reader, big.NewInt(int64(25*365)))
	if err != nil {
		return "", fmt.Errorf("profile: draw birth date: %w", err)
	}
	base := time.Now().AddDate(-45, 0, 0)
	return base.AddDate(0, 0, int(days.Int64())).Format("2006-01-02"), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

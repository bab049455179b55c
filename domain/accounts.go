package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account is a local user. Remote users live in RemoteAccount; both are
// actors in the federation sense, backed by different tables.
type Account struct {
	Id            uuid.UUID
	Username      string
	DisplayName   string
	Summary       string
	AvatarURL     string
	CreatedAt     time.Time
	WebPublicKey  string
	WebPrivateKey string
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCREATED_AT: %s)", acc.Id, acc.Username, acc.CreatedAt)
}

// ActorURI returns the account's stable federation identity.
func (acc *Account) ActorURI(domain string) string {
	return fmt.Sprintf("https://%s/users/%s", domain, acc.Username)
}

// WallURI returns the account's wall collection URI. Add activities must
// target exactly this collection.
func (acc *Account) WallURI(domain string) string {
	return fmt.Sprintf("https://%s/users/%s/wall", domain, acc.Username)
}

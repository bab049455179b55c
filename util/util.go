package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 4096

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	pub := key.Public()

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubBytes, err := x509.MarshalPKIXPublicKey(pub.(*rsa.PublicKey))
	if err != nil {
		panic(err)
	}

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM[:]), Public: string(pubPEM[:])}
}

var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_]+)@([a-zA-Z0-9.\-]+)`)

// ExtractMentions returns the @user@domain mentions found in text, each as
// a [username, domain] pair, in order of appearance without duplicates.
func ExtractMentions(text string) [][2]string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool, len(matches))
	mentions := make([][2]string, 0, len(matches))
	for _, match := range matches {
		key := match[1] + "@" + match[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		mentions = append(mentions, [2]string{match[1], match[2]})
	}

	return mentions
}

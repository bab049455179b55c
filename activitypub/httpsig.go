package activitypub

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

var keyIdPattern = regexp.MustCompile(`keyId="([^"]+)"`)

// KeyOwnerURI extracts the actor URI owning the key that signed the request.
// The keyId is conventionally the actor URI with a fragment, e.g.
// "https://example.com/users/alice#main-key".
func KeyOwnerURI(req *http.Request) (string, error) {
	header := req.Header.Get("Signature")
	if header == "" {
		return "", fmt.Errorf("request carries no signature")
	}
	match := keyIdPattern.FindStringSubmatch(header)
	if match == nil {
		return "", fmt.Errorf("signature header carries no keyId")
	}
	return strings.Split(match[1], "#")[0], nil
}

// VerifyRequest checks the HTTP signature on an inbound request against the
// given PEM public key and returns the signing actor's URI.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	return strings.Split(keyId, "#")[0], nil
}

// SignRequest signs an outbound request with the local account's key.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	return signer.SignRequest(privateKey, keyId, req, body)
}

// ParsePrivateKey decodes a PKCS1 PEM private key.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return privateKey, nil
}

// ParsePublicKey decodes a PKIX PEM public key.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}

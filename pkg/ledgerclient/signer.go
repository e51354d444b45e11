package ledgerclient

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Signer produces the signature attached to ledger submissions. The
// signature is an opaque string in the payload; the scheme behind it is
// swappable without touching the audit-trail data model.
type Signer interface {
	Sign(payload any) (string, error)
	PublicKey() string
}

// canonicalBytes renders payload as RFC 8785 canonical JSON so the
// signature is stable across field ordering.
func canonicalBytes(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return canonical, nil
}

// HashSigner is a deterministic hash-based placeholder signer. It is NOT
// cryptographic authentication; use Ed25519Signer where that matters.
type HashSigner struct {
	KeyID string
}

func NewHashSigner(keyID string) *HashSigner {
	return &HashSigner{KeyID: keyID}
}

func (s *HashSigner) Sign(payload any) (string, error) {
	canonical, err := canonicalBytes(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(s.KeyID+":"), canonical...))
	return hex.EncodeToString(sum[:]), nil
}

func (s *HashSigner) PublicKey() string { return s.KeyID }

// Ed25519Signer signs canonicalized payloads with a real key pair.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

// NewEd25519SignerFromSeed builds a signer from a hex-encoded 32-byte
// seed, as supplied through configuration.
func NewEd25519SignerFromSeed(hexSeed string) (*Ed25519Signer, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: hex.EncodeToString(pub)}, nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(payload any) (string, error) {
	canonical, err := canonicalBytes(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ed25519.Sign(s.privKey, canonical)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

// Verify checks sig against payload using the signer's public key.
func (s *Ed25519Signer) Verify(payload any, sig string) (bool, error) {
	canonical, err := canonicalBytes(payload)
	if err != nil {
		return false, err
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	return ed25519.Verify(s.pubKey, canonical, raw), nil
}

// Package signer describes the cryptographic signing collaborator spec
// §1/§9 keeps external to this module: event signing and signer
// discovery. Adapted from the teacher's protocol.EventSigner, but
// expressed as an injectable interface per spec §9's open question
// rather than a concrete struct, so a browser-extension-style external
// signer can be substituted without touching the Publication Engine.
package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/asmogo/nostrmux/wire"
	"github.com/nbd-wtf/go-nostr"
)

// ErrNoExternalSigner is returned by a signer with no external-signer
// backing when SignByExternalSigner is invoked without a secret key
// having been supplied to the Publication Engine (spec §9: "a null
// implementation that errors if invoked without a provided secret key").
var ErrNoExternalSigner = errors.New("signer: no external signer configured and no secret key provided")

// Signer is the injectable collaborator the Publication Engine delegates
// signing to.
type Signer interface {
	// SignByKey signs params with a hex or bech32 secret key. Pure: no
	// I/O, no async discovery.
	SignByKey(ctx context.Context, params wire.Event, secretKey string) (wire.Event, error)
	// SignByExternalSigner signs params via an out-of-band signer (e.g. a
	// NIP-07 browser extension analogue); asynchronous.
	SignByExternalSigner(ctx context.Context, params wire.Event) (wire.Event, error)
}

// Default signs directly with go-nostr's event signing, generalizing
// protocol.EventSigner.CreateSignedEvent, and has no external-signer
// backing. Its SignByKey accepts hex secret keys only; a bech32 (nsec)
// key is not decoded and fails with an error.
type Default struct{}

func (Default) SignByKey(_ context.Context, params wire.Event, secretKey string) (wire.Event, error) {
	pub, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return wire.Event{}, fmt.Errorf("signer: could not derive public key: %w", err)
	}
	params.PubKey = pub
	if params.CreatedAt == 0 {
		params.CreatedAt = nostr.Now()
	}
	if err := params.Sign(secretKey); err != nil {
		return wire.Event{}, fmt.Errorf("signer: could not sign event: %w", err)
	}
	return params, nil
}

func (Default) SignByExternalSigner(_ context.Context, _ wire.Event) (wire.Event, error) {
	return wire.Event{}, ErrNoExternalSigner
}

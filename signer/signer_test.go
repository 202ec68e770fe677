package signer

import (
	"context"
	"testing"

	"github.com/asmogo/nostrmux/wire"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretKey = "5ee1c8000ab28edd64d152847bfa8abee0418e4c16ea6cfe7ae4858b5666a524"

func TestDefault_SignByKey(t *testing.T) {
	t.Parallel()
	d := Default{}
	ev, err := d.SignByKey(context.Background(), wire.Event{Kind: 1, Content: "hello"}, testSecretKey)
	require.NoError(t, err)

	pub, err := nostr.GetPublicKey(testSecretKey)
	require.NoError(t, err)
	assert.Equal(t, pub, ev.PubKey)
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.Sig)
	assert.NotZero(t, ev.CreatedAt)

	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefault_SignByKeyPreservesCreatedAt(t *testing.T) {
	t.Parallel()
	d := Default{}
	ev, err := d.SignByKey(context.Background(), wire.Event{Kind: 1, CreatedAt: 12345}, testSecretKey)
	require.NoError(t, err)
	assert.EqualValues(t, 12345, ev.CreatedAt)
}

func TestDefault_SignByExternalSignerErrors(t *testing.T) {
	t.Parallel()
	d := Default{}
	_, err := d.SignByExternalSigner(context.Background(), wire.Event{})
	assert.ErrorIs(t, err, ErrNoExternalSigner)
}

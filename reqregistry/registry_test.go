package reqregistry

import (
	"testing"

	"github.com/asmogo/nostrmux/wire"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_StoreDeleteSnapshot(t *testing.T) {
	t.Parallel()
	r := New()

	assert.Empty(t, r.Snapshot())

	r.Store("sub1", wire.Filters{{Kinds: []int{1}}})
	snap := r.Snapshot()
	assert.Contains(t, snap, "sub1")
	assert.Equal(t, wire.ReqFrame("sub1", wire.Filters{{Kinds: []int{1}}}), snap["sub1"])

	// overwritten on a second Store for the same subId.
	r.Store("sub1", wire.Filters{{Kinds: []int{2}}})
	snap = r.Snapshot()
	assert.Equal(t, wire.ReqFrame("sub1", wire.Filters{{Kinds: []int{2}}}), snap["sub1"])

	r.Delete("sub1")
	assert.NotContains(t, r.Snapshot(), "sub1")
}

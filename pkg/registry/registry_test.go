package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/registry"
)

func TestServiceLookup(t *testing.T) {
	info, ok := registry.Service(registry.ReadDataByIdentifier)
	assert.True(t, ok)
	assert.Equal(t, "ReadDataByIdentifier", info.Name)
	assert.False(t, info.HasSubFunction)

	_, ok = registry.Service(0x00)
	assert.False(t, ok)
}

func TestNRCDescribeKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "requestCorrectlyReceivedResponsePending", registry.Describe(registry.NRCRequestCorrectlyReceivedResponsePending))
	assert.Equal(t, "unknownNRC(0x99)", registry.Describe(registry.NRC(0x99)))
}

func TestDIDLookup(t *testing.T) {
	info, ok := registry.DID(0xF190)
	assert.True(t, ok)
	assert.Equal(t, "VIN", info.Name)
}

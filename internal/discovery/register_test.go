package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistration(t *testing.T) {
	reg := registration("node-a", 8080)

	assert.Equal(t, "tombala-node-a-8080", reg.ID)
	assert.Equal(t, ServiceName, reg.Name)
	assert.Equal(t, 8080, reg.Port)
	require.NotNil(t, reg.Check)
	assert.Equal(t, "http://node-a:8080/healthz", reg.Check.HTTP)
	assert.Equal(t, "1m", reg.Check.DeregisterCriticalServiceAfter)
}

func TestRegister_AgentUnreachable(t *testing.T) {
	_, err := Register("127.0.0.1:1", 8080, nil)
	assert.Error(t, err)
}

package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryrelay/queryrelay/internal/logging"
)

func TestInstanceKeyLayout(t *testing.T) {
	r := &ServiceRegistration{
		info: InstanceInfo{
			ID:      "3f1c9a52-0000-0000-0000-000000000000",
			Service: "proxy",
			Address: "127.0.0.1:5000",
		},
		logger: logging.NewDevelopment(),
	}

	assert.Equal(t, "/queryrelay/services/proxy/3f1c9a52-0000-0000-0000-000000000000", r.key())
}

func TestInstanceInfoRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	info := InstanceInfo{
		ID:        "abc",
		Service:   "gatekeeper",
		Address:   "0.0.0.0:5002",
		StartedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var decoded InstanceInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, info, decoded)
}

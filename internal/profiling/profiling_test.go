package profiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitProfiling_Disabled(t *testing.T) {
	stop := InitProfiling(Config{ServerAddress: "http://pyroscope:4040"}, "test")
	assert.NotNil(t, stop)
	assert.NotPanics(t, stop)
}

func TestPyroscopeConfig_Defaults(t *testing.T) {
	pcfg := pyroscopeConfig(Config{Enabled: true}, "1.2.3")
	assert.Equal(t, "http://localhost:4040", pcfg.ServerAddress)
	assert.Equal(t, "transit-planner", pcfg.ApplicationName)
	assert.Equal(t, "1.2.3", pcfg.Tags["version"])
	assert.Empty(t, pcfg.BasicAuthUser)
	assert.Len(t, pcfg.ProfileTypes, 5)
}

func TestPyroscopeConfig_BasicAuthNeedsBoth(t *testing.T) {
	pcfg := pyroscopeConfig(Config{Enabled: true, BasicAuthUser: "u"}, "dev")
	assert.Empty(t, pcfg.BasicAuthUser)

	pcfg = pyroscopeConfig(Config{
		Enabled:           true,
		ServerAddress:     "https://profiles.example.net",
		ApplicationName:   "planner-madrid",
		BasicAuthUser:     "u",
		BasicAuthPassword: "p",
	}, "dev")
	assert.Equal(t, "https://profiles.example.net", pcfg.ServerAddress)
	assert.Equal(t, "planner-madrid", pcfg.ApplicationName)
	assert.Equal(t, "u", pcfg.BasicAuthUser)
	assert.Equal(t, "p", pcfg.BasicAuthPassword)
}

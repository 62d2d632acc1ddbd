package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	r := require.New(t)
	var conf Common
	err := Get(&conf)
	r.NoError(err)
	r.NoError(conf.Validate())

	r.EqualValues(9090, conf.Metrics.Port)
	r.EqualValues("info", conf.Log.Level)
	r.EqualValues(false, conf.Log.Json)
	r.EqualValues(1, conf.Redis.QueueDB)
	r.EqualValues(2, conf.Redis.LockDB)
}

func TestOverride(t *testing.T) {
	r := require.New(t)
	var conf Common
	err := Get(&conf, Path("override_test.yaml"))
	r.NoError(err)

	r.EqualValues(69, conf.Metrics.Port)
	r.EqualValues("info", conf.Log.Level)
	r.EqualValues(true, conf.Log.Json)
	r.NotEmpty(conf.Redis.Address)

	r.EqualValues("user", conf.Redis.User)
	r.EqualValues("pass", conf.Redis.Password)
	r.EqualValues("sentinel", conf.Redis.Sentinel.User)
	r.EqualValues("sentinel-pass", conf.Redis.Sentinel.Password)
	r.EqualValues("master", conf.Redis.Sentinel.MasterName)
	r.True(conf.Redis.TLS.Enabled)
	r.True(conf.Redis.TLS.Insecure)
}

func TestOverride2(t *testing.T) {
	r := require.New(t)
	var conf Common
	err := Get(&conf, Path("override_test.yaml"), Path("override_test2.yaml"))
	r.NoError(err)
	r.NoError(conf.Validate())

	r.EqualValues(420, conf.Metrics.Port)
	r.EqualValues(true, conf.Log.Json)
	r.Empty(conf.Redis.Addresses)
	r.EqualValues([]string{conf.Redis.Address}, conf.Redis.GetAddresses())
}

func TestOverrideReader(t *testing.T) {
	r := require.New(t)
	var conf Common
	err := Get(&conf, Path("no_such_file.yaml"), Reader(strings.NewReader("log:\n  level: debug\n"), "inline"))
	r.NoError(err)
	r.EqualValues("debug", conf.Log.Level)
}

func TestOverrideEnv(t *testing.T) {
	t.Setenv("CFG_METRICS_PORT", "55")
	t.Setenv("CFG_REDIS_PASSWORD", "secret")
	t.Setenv("CFG_REDIS_ADDRESSES", "a,b,c")

	r := require.New(t)
	var conf Common
	err := Get(&conf, Path("override_test.yaml"), Path("override_test2.yaml"))
	r.NoError(err)
	r.NoError(conf.Validate())
	r.EqualValues(55, conf.Metrics.Port)
	r.EqualValues("secret", conf.Redis.Password)
	r.EqualValues([]string{"a", "b", "c"}, conf.Redis.Addresses, "redis addresses set from env")
	r.EqualValues([]string{"a", "b", "c"}, conf.Redis.GetAddresses(), "address is ignored")
}

func TestRedis_validate(t *testing.T) {
	tests := []struct {
		name    string
		redis   Redis
		wantErr bool
	}{
		{name: "invalid: no address set", redis: Redis{Addresses: []string{}}, wantErr: true},
		{name: "valid: both addresses set", redis: Redis{Address: "addr", Addresses: []string{"addr"}}},
		{name: "valid: only address set", redis: Redis{Address: "addr"}},
		{name: "valid: only addresses set", redis: Redis{Addresses: []string{"addr"}}},
		{name: "invalid: db out of range", redis: Redis{Address: "addr", LockDB: 16}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.redis.validate(); (err != nil) != tt.wantErr {
				t.Errorf("Redis.validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

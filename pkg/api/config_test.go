package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr string
	}{
		{
			name: "disabled",
			conf: Config{Enabled: false},
		},
		{
			name: "disabled ignores invalid ports",
			conf: Config{Enabled: false, GrpcPort: 9680},
		},
		{
			name: "enabled",
			conf: Config{Enabled: true, GrpcPort: 9670, HttpPort: 9671},
		},
		{
			name:    "grpcPort not set",
			conf:    Config{Enabled: true, HttpPort: 9671},
			wantErr: "grpcPort must be positive",
		},
		{
			name:    "httpPort not set",
			conf:    Config{Enabled: true, GrpcPort: 9670},
			wantErr: "httpPort must be positive",
		},
		{
			name:    "same ports",
			conf:    Config{Enabled: true, GrpcPort: 9670, HttpPort: 9670},
			wantErr: "must differ",
		},
		{
			name:    "secure without cert",
			conf:    Config{Enabled: true, GrpcPort: 9670, HttpPort: 9671, Secure: true},
			wantErr: "grpcCertFile and grpcKeyFile are required",
		},
		{
			name: "backbeat prefix",
			conf: Config{Enabled: true, GrpcPort: 9670, HttpPort: 9671, PathPrefix: "/_/backbeat/api"},
		},
		{
			name:    "prefix without leading slash",
			conf:    Config{Enabled: true, GrpcPort: 9670, HttpPort: 9671, PathPrefix: "_/backbeat/api"},
			wantErr: "must start with /",
		},
		{
			name:    "prefix with trailing slash",
			conf:    Config{Enabled: true, GrpcPort: 9670, HttpPort: 9671, PathPrefix: "/_/backbeat/api/"},
			wantErr: "must not end with /",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			err := tt.conf.Validate()
			if tt.wantErr == "" {
				r.NoError(err)
			} else {
				r.ErrorContains(err, tt.wantErr)
			}
		})
	}
}

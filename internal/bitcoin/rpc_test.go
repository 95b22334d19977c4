package bitcoin

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bardlex/gominer/pkg/errors"
)

func TestNewRPCClient(t *testing.T) {
	tests := []struct {
		name       string
		cfg        RPCConfig
		wantErr    bool
		wantParams *chaincfg.Params
	}{
		{
			name:       "defaults to mainnet",
			cfg:        RPCConfig{Host: "localhost:8332", User: "user", Pass: "pass", DisableTLS: true},
			wantParams: &chaincfg.MainNetParams,
		},
		{
			name:       "regtest",
			cfg:        RPCConfig{Host: "localhost:18443", DisableTLS: true, Params: &chaincfg.RegressionNetParams},
			wantParams: &chaincfg.RegressionNetParams,
		},
		{
			name:    "missing host",
			cfg:     RPCConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewRPCClient(tt.cfg)
			if tt.wantErr {
				if !errors.IsType(err, errors.ErrorTypeValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRPCClient() unexpected error: %v", err)
			}
			defer client.Close()

			if client.Params() != tt.wantParams {
				t.Errorf("Params() = %s, want %s", client.Params().Name, tt.wantParams.Name)
			}
		})
	}
}

func TestRPCClientSubmitNilBlock(t *testing.T) {
	client, err := NewRPCClient(RPCConfig{Host: "localhost:8332", DisableTLS: true})
	if err != nil {
		t.Fatalf("Failed to create RPC client: %v", err)
	}
	defer client.Close()

	if err := client.SubmitBlock(context.Background(), nil); !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("SubmitBlock(nil) = %v, want validation error", err)
	}
}

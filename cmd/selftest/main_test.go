package main

import (
	"testing"
	"time"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{
			name: "defaults",
			want: options{chains: 2, asicBoost: true, nonceRange: 1 << 16, timeout: 2 * time.Minute, logLevel: "info", logFormat: "text"},
		},
		{
			name: "overrides",
			args: []string{"-chains", "1", "-asic-boost=false", "-nonce-range", "1024", "-timeout", "5s"},
			want: options{chains: 1, nonceRange: 1024, timeout: 5 * time.Second, logLevel: "info", logFormat: "text"},
		},
		{name: "zero range", args: []string{"-nonce-range", "0"}, wantErr: true},
		{name: "unknown flag", args: []string{"-bogus"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReachableBlocks(t *testing.T) {
	if got := len(reachableBlocks(1 << 32)); got != 5 {
		t.Errorf("full range reaches %d blocks, want 5", got)
	}
	for _, b := range reachableBlocks(16) {
		if b.Nonce >= 16 {
			t.Errorf("block %s with nonce %d is not reachable", b.Name, b.Nonce)
		}
	}
	if got := len(reachableBlocks(16)); got != 2 {
		t.Errorf("16 nonces reach %d blocks, want 2", got)
	}
}

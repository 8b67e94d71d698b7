package config

import "testing"

func TestLoadFromEnvOnly(t *testing.T) {
	t.Setenv("RPC_URL", "https://polygon-rpc.example/v1")
	t.Setenv("TOKEN_ADDRESS", "0x0000000000000000000000000000000000dEaD")
	t.Setenv("BATCH_SIZE", "500")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL != "https://polygon-rpc.example/v1" {
		t.Fatalf("unexpected rpc url: %q", cfg.RPCURL)
	}
	if cfg.BatchSize != 500 {
		t.Fatalf("expected batch size 500, got %d", cfg.BatchSize)
	}
	if cfg.Confirmations != defaultConfirmations {
		t.Fatalf("expected default confirmations, got %d", cfg.Confirmations)
	}
	if cfg.ChainID != defaultChainID {
		t.Fatalf("expected default chain id, got %d", cfg.ChainID)
	}
}

func TestLoadRejectsMissingRPCURL(t *testing.T) {
	t.Setenv("RPC_URL", "")
	t.Setenv("TOKEN_ADDRESS", "0x0000000000000000000000000000000000dEaD")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for missing rpc_url")
	}
}

func TestLoadRejectsBadAddress(t *testing.T) {
	t.Setenv("RPC_URL", "https://polygon-rpc.example/v1")
	t.Setenv("TOKEN_ADDRESS", "not-an-address")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for malformed token address")
	}
}

func TestSubstituteEnvVarsWithDefault(t *testing.T) {
	t.Setenv("MISSING_VAR", "")
	out := substituteEnvVars("value: ${MISSING_VAR:-fallback}")
	if out != "value: fallback" {
		t.Fatalf("expected fallback substitution, got %q", out)
	}
}

func TestSubstituteEnvVarsFromEnv(t *testing.T) {
	t.Setenv("PRESENT_VAR", "hello")
	out := substituteEnvVars("value: ${PRESENT_VAR}")
	if out != "value: hello" {
		t.Fatalf("expected env substitution, got %q", out)
	}
}

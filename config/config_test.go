package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
APIConf:
  Port: "9000"
RegistryAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
Node: "http://localhost:8545"
Chain:
  ConfirmTimeout: 30s
Registration:
  Workers: 2
  MaxInterval: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.APIConf.Port)
	assert.Equal(t, "0.0.0.0", cfg.APIConf.Host)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), cfg.RegistryAddress)
	assert.Equal(t, BackendEthereum, cfg.Chain.Backend)
	assert.Equal(t, 30*time.Second, cfg.Chain.ConfirmTimeout)
	assert.Equal(t, 15*time.Second, cfg.Chain.CallTimeout)
	assert.Equal(t, 2, cfg.Registration.Workers)
	assert.Equal(t, uint64(5), cfg.Registration.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Registration.MaxInterval)
	assert.Equal(t, "data/certificates", cfg.Store.Path)
}

func TestLoadLedgerBackend(t *testing.T) {
	path := writeConfig(t, `
Chain:
  Backend: ledger
Store:
  InMemory: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendLedger, cfg.Chain.Backend)
	assert.Empty(t, cfg.Store.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no node":        "RegistryAddress: \"0x5FbDB2315678afecb367f032d93F642f64180aa3\"\n",
		"no registry":    "Node: http://localhost:8545\n",
		"backend":        "Chain:\n  Backend: mock\n",
		"intervals":      "Chain:\n  Backend: ledger\nRegistration:\n  InitialInterval: 10m\n  MaxInterval: 1m\n",
		"negative pool":  "Chain:\n  Backend: ledger\nRegistration:\n  Workers: -1\n",
		"malformed yaml": "Chain: [",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

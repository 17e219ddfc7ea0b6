package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeCommands(t *testing.T) {
	assert.Equal(t, "docker compose -p goerli -f - up -d --remove-orphans", upCommand("goerli"))
	assert.Equal(t, "docker compose -p goerli -f - down --remove-orphans", downCommand("goerli", false))
	assert.Equal(t, "docker compose -p goerli -f - down --remove-orphans --volumes", downCommand("goerli", true))
	assert.Equal(t, "docker compose -p goerli ps --all", statusCommand("goerli"))
}

func TestNewRunner_InvalidKey(t *testing.T) {
	_, err := NewRunner(Host{Addr: "10.0.0.1", User: "deploy"}, []byte("not a key"), DefaultConfig(), nil)
	assert.Error(t, err)
}

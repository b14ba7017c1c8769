package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGateway(t *testing.T) {
	t.Setenv(EnvGogoMode, "")

	_, ok := NewGateway(Config{Model: "m"}, true, nil).(*MockGateway)
	assert.True(t, ok, "forceMock selects the mock gateway")

	_, ok = NewGateway(Config{Model: "m"}, false, nil).(*OpenAIGateway)
	assert.True(t, ok)

	t.Setenv(EnvGogoMode, ModeMock)
	_, ok = NewGateway(Config{Model: "m"}, false, nil).(*MockGateway)
	assert.True(t, ok, "GOGO_MODE=MOCK selects the mock gateway")
}

package unikernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageName(t *testing.T) {
	cfg := WorkerConfig{QueryID: 4, NodeID: 7}
	assert.Equal(t, "unikernel_4_7", cfg.ImageName())
}

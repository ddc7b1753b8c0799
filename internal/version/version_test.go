package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "v1.2.3"
	assert.Contains(t, Info(), "claimpricer v1.2.3")
	assert.Contains(t, Info(), "commit "+Commit)
}

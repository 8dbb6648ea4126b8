package stdx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errTest = errors.New("test error")

func TestMust1(t *testing.T) {
	assert.Equal(t, "channel", Must1("channel", nil))
	assert.PanicsWithError(t, errTest.Error(), func() { Must1(0, errTest) })
}

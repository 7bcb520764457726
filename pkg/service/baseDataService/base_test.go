package baseDataService

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ContainsPattern(t *testing.T) {
	assert.Equal(t, "%raffle%", ContainsPattern("  Raffle "))
	assert.Equal(t, `%100\%%`, ContainsPattern("100%"))
	assert.Equal(t, `%a\_b%`, ContainsPattern("a_b"))
	assert.Equal(t, `%c:\\d%`, ContainsPattern(`C:\d`))
}

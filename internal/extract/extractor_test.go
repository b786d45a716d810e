package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_Cashtag(t *testing.T) {
	tokens := Extract("just aped into $MOONDOG, this is the one")
	assert.Equal(t, []string{"MOONDOG"}, tokens)
}

func TestExtract_KeywordSuffix(t *testing.T) {
	tokens := Extract("FROGGY coin is going parabolic")
	assert.Contains(t, tokens, "FROGGY")
}

func TestExtract_Vocabulary(t *testing.T) {
	tokens := Extract("pepe and bonk are pumping again")
	assert.Contains(t, tokens, "PEPE")
	assert.Contains(t, tokens, "BONK")
}

func TestExtract_CaseInsensitiveAndDeduplicated(t *testing.T) {
	tokens := Extract("$wifhat $WIFHAT $WifHat")
	assert.Equal(t, []string{"WIFHAT"}, tokens)
}

func TestExtract_StopWordsExcluded(t *testing.T) {
	tokens := Extract("THE coin AND token FOR moon WITH pump")
	for _, tok := range tokens {
		assert.NotContains(t, []string{"THE", "AND", "FOR", "WITH"}, tok)
	}
}

func TestExtract_RejectsNumericAndLength(t *testing.T) {
	assert.Empty(t, Extract("$1234 pump"))
	assert.Empty(t, Extract("$A moon"))
	assert.Empty(t, Extract("$VERYLONGTOKENNAME to the moon"))
}

func TestExtract_EmptyAndPlainText(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract("just had lunch, great weather today"))
}

func TestExtract_OutputAlwaysUpperBounded(t *testing.T) {
	tokens := Extract("$abc $defgh turbo gem NEWCOIN token")
	for _, tok := range tokens {
		assert.Equal(t, strings.ToUpper(tok), tok)
		assert.GreaterOrEqual(t, len(tok), 2)
		assert.LessOrEqual(t, len(tok), 10)
	}
}

func TestExtract_Pure(t *testing.T) {
	// Same input twice yields the same result.
	a := Extract("$ALPHA beta coin bonk")
	b := Extract("$ALPHA beta coin bonk")
	assert.Equal(t, a, b)
}

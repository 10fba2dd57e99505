package leads

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitName(t *testing.T) {
	t.Parallel()

	first, last := SplitName("Ada Lovelace")
	assert.Equal(t, "Ada", first)
	assert.Equal(t, "Lovelace", last)

	first, last = SplitName("Madonna")
	assert.Equal(t, "Madonna", first)
	assert.Empty(t, last)

	first, last = SplitName("  Jean Claude Van Damme ")
	assert.Equal(t, "Jean", first)
	assert.Equal(t, "Claude Van Damme", last)

	first, last = SplitName("")
	assert.Empty(t, first)
	assert.Empty(t, last)
}

func TestNormalizeProfileURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"https://www.linkedin.com/in/ada",
		NormalizeProfileURL("https://www.linkedin.com/in/ada?trk=search&origin=GLOBAL"),
	)
	assert.Equal(t,
		"https://www.linkedin.com/in/ada",
		NormalizeProfileURL("https://www.linkedin.com/in/ada/#recent-activity"),
	)
	assert.Equal(t,
		"https://www.linkedin.com/in/ada",
		NormalizeProfileURL("https://www.linkedin.com/in/ada/"),
	)
	assert.Empty(t, NormalizeProfileURL("   "))
}

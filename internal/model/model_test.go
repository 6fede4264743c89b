package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("all").Valid())
	assert.False(t, Status("").Valid())
	assert.False(t, Status("reopened").Valid())
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "circle", StatusOpen.Icon())
	assert.Equal(t, "clock", StatusInProgress.Icon())
	assert.Equal(t, "check-circle", StatusResolved.Icon())
	assert.Equal(t, "x-circle", StatusClosed.Icon())
	assert.Equal(t, "help-circle", Status("bogus").Icon())
}

func TestPriorityValid(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent} {
		assert.True(t, p.Valid(), p)
	}
	assert.False(t, Priority("").Valid())
	assert.False(t, Priority("critical").Valid())
}

func TestPriorityColor(t *testing.T) {
	assert.Equal(t, "gray", PriorityLow.Color())
	assert.Equal(t, "blue", PriorityMedium.Color())
	assert.Equal(t, "orange", PriorityHigh.Color())
	assert.Equal(t, "red", PriorityUrgent.Color())
	assert.Equal(t, "gray", Priority("bogus").Color())
}

func TestProvisionalTitle(t *testing.T) {
	assert.Equal(t, "short message", ProvisionalTitle("short message"))

	exactly50 := strings.Repeat("a", 50)
	assert.Equal(t, exactly50, ProvisionalTitle(exactly50))

	long := strings.Repeat("a", 51)
	assert.Equal(t, exactly50+"...", ProvisionalTitle(long))
}

func TestProvisionalTitleMultibyte(t *testing.T) {
	// Truncation counts runes, not bytes.
	long := strings.Repeat("é", 60)
	got := ProvisionalTitle(long)
	assert.Equal(t, strings.Repeat("é", 50)+"...", got)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProductURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		console string
		title   string
	}{
		{"product page", "https://www.pricecharting.com/game/nintendo-64/super-mario-64", "Nintendo 64", "Super Mario 64"},
		{"trailing slash", "https://www.pricecharting.com/game/sega-saturn/nights/", "Sega Saturn", "Nights"},
		{"multibyte first letter", "https://www.pricecharting.com/game/playstation/élan-über", "Playstation", "Élan Über"},
		{"no console segment", "https://www.pricecharting.com/zelda", "", "Zelda"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			console, title := ParseProductURL(tt.raw)
			assert.Equal(t, tt.console, console)
			assert.Equal(t, tt.title, title)
		})
	}
}

func TestGame_ListFollowsPurchase(t *testing.T) {
	g := Game{Key: "7", IsWanted: true}
	assert.Equal(t, ListWishlist, g.List())

	g.IsWanted = false
	assert.Equal(t, ListCollection, g.List())
}

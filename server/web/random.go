package web

import (
	"math/rand/v2"
	"strings"
)

var randomAdjectives = []string{
	"ancient", "bitter", "brave", "bright", "calm", "clever", "cold",
	"crimson", "curious", "dusty", "eager", "faint", "fancy", "fierce",
	"frozen", "gentle", "golden", "happy", "hidden", "humble", "icy",
	"jolly", "lazy", "little", "lonely", "lucky", "mellow", "misty",
	"noble", "odd", "proud", "quiet", "rapid", "rusty", "shiny",
	"silent", "sleepy", "smooth", "sour", "swift", "tiny", "wild",
}

var randomNouns = []string{
	"anchor", "badger", "beacon", "breeze", "candle", "canyon", "cloud",
	"comet", "coral", "cricket", "falcon", "fern", "flint", "garden",
	"glacier", "harbor", "heron", "island", "lantern", "maple", "meadow",
	"meteor", "otter", "pebble", "pigeon", "plume", "raven", "reef",
	"river", "saddle", "shadow", "sparrow", "spruce", "stone", "thicket",
	"thunder", "tulip", "valley", "walnut", "willow", "wren", "zephyr",
}

// RandomAddress generates a throwaway address of the form
// adjective.noun@domain using one of the configured domains. Wildcards in the
// chosen domain are filled with random nouns. Returns "" when no domains are
// configured.
func RandomAddress(domains []string) string {
	if len(domains) == 0 {
		return ""
	}

	domain := domains[rand.IntN(len(domains))]
	for strings.Contains(domain, "*") {
		domain = strings.Replace(domain, "*", randomNouns[rand.IntN(len(randomNouns))], 1)
	}

	return randomAdjectives[rand.IntN(len(randomAdjectives))] +
		"." + randomNouns[rand.IntN(len(randomNouns))] + "@" + domain
}

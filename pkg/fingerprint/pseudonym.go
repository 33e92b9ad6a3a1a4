package fingerprint

import (
	"golang.org/x/crypto/sha3"
)

// Both lists hold 64 words, so six bits of the digest pick one without bias.
var adjectives = [64]string{
	"amber", "arctic", "ashen", "autumn", "azure", "bitter", "blazing", "bold",
	"brisk", "bronze", "cedar", "cobalt", "copper", "coral", "crimson", "crystal",
	"dusky", "dusty", "ember", "emerald", "faded", "feral", "frosty", "gilded",
	"golden", "granite", "hollow", "humble", "indigo", "iron", "ivory", "jade",
	"lunar", "marble", "misty", "molten", "mossy", "nimble", "ochre", "olive",
	"onyx", "pale", "pearl", "polar", "quiet", "rapid", "rusty", "saffron",
	"scarlet", "shadow", "silent", "silver", "slate", "solar", "stormy", "sunny",
	"tawny", "teal", "timber", "velvet", "violet", "wandering", "wintry", "woven",
}

var nouns = [64]string{
	"albatross", "anchor", "badger", "beacon", "bison", "bramble", "canyon", "cipher",
	"comet", "condor", "coyote", "crane", "delta", "dune", "falcon", "fjord",
	"glacier", "harbor", "hare", "heron", "ibex", "island", "jackal", "kestrel",
	"lantern", "lynx", "magpie", "marten", "meadow", "mesa", "mink", "moth",
	"newt", "ocelot", "orca", "osprey", "otter", "owl", "pebble", "petrel",
	"pike", "plover", "puffin", "quarry", "raven", "reef", "ridge", "robin",
	"salmon", "sparrow", "spruce", "stag", "summit", "swift", "thistle", "tundra",
	"valley", "viper", "walrus", "willow", "wolf", "wren", "yak", "zephyr",
}

// Pseudonym gives an identity key a stable, human-friendly name such as
// "amber-otter". It is a display aid only and says nothing about
// authenticity.
func Pseudonym(key []byte) string {
	sum := sha3.Sum256(key)
	return adjectives[sum[0]&63] + "-" + nouns[sum[1]&63]
}

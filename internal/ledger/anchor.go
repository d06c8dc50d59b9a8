package ledger

import (
	"crypto/sha256"
)

// Anchor-style 8-byte discriminators. Instructions are tagged with
// sha256("global:<snake_name>")[:8], events with sha256("event:<Name>")[:8].

func InstructionDiscriminator(name string) [8]byte {
	return discriminator("global:" + name)
}

func EventDiscriminator(name string) [8]byte {
	return discriminator("event:" + name)
}

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

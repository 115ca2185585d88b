package rand

import (
	"math/rand"
	"testing"
)

func TestNewGenerator(t *testing.T) {
	// Make sure that generation works, no panics.
	randGen := NewGenerator()
	_ = randGen.Int63()
	_ = randGen.Uint64()
	_ = randGen.Intn(32)
	var _ = rand.Source64(randGen)
}

func TestNewDeterministicGenerator(t *testing.T) {
	randGen := NewDeterministicGenerator()
	var _ = rand.Source64(randGen)
	for i := 0; i < 16; i++ {
		if n := randGen.Intn(32); n < 0 || n >= 32 {
			t.Fatalf("Intn(32) returned %d", n)
		}
	}
}

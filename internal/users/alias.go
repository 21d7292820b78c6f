package users

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var aliasAdjectives = []string{
	"Green", "Golden", "Silver", "Amber", "Copper", "Crimson", "Azure",
	"Misty", "Sunny", "Windy", "Quiet", "Swift", "Steady", "Bright",
}

var aliasNouns = []string{
	"Valley", "River", "Meadow", "Harvest", "Orchard", "Prairie", "Ridge",
	"Grove", "Field", "Summit", "Brook", "Terrace", "Plain", "Hollow",
}

// newAlias produces a random market handle such as "GreenValley42". The
// caller is responsible for retrying on the rare uniqueness collision.
func newAlias() (string, error) {
	adj, err := pick(len(aliasAdjectives))
	if err != nil {
		return "", err
	}
	noun, err := pick(len(aliasNouns))
	if err != nil {
		return "", err
	}
	n, err := pick(100)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%d", aliasAdjectives[adj], aliasNouns[noun], n), nil
}

func pick(max int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating alias: %w", err)
	}
	return int(v.Int64()), nil
}

package pkguid

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// epochMillis is the custom snowflake epoch: Mon Dec 01 2025 00:00:00.000 WIB.
const epochMillis = 1764522000000

//nolint:gochecknoglobals // snowflake.Epoch is package state in the library
var epochOnce sync.Once

// Snowflake generates numeric IDs using the Snowflake algorithm.
//
// IDs from one generator are strictly increasing, which makes them usable as
// ordered attempt identities.
type Snowflake struct {
	node *snowflake.Node
}

func generateRandomNodeID() (int64, error) {
	var nodeID int64
	err := binary.Read(rand.Reader, binary.BigEndian, &nodeID)
	if err != nil {
		return 0, err
	}

	return nodeID & (1<<10 - 1), nil // Limiting to 10 bits for node ID
}

// NewSnowflake constructs a Snowflake generator with a random node ID.
func NewSnowflake() (*Snowflake, error) {
	nodeID, err := generateRandomNodeID()
	if err != nil {
		return nil, err
	}

	epochOnce.Do(func() {
		snowflake.Epoch = epochMillis
	})

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}

	return &Snowflake{node: node}, nil
}

// Generate returns a new unique numeric ID.
func (s *Snowflake) Generate() int64 {
	return s.node.Generate().Int64()
}

package genotype

import (
	"fmt"
	"hash/fnv"
)

// Innovation numbers are deterministic hashes of the structural change
// they mark. Two genotypes that independently add the same edge, or
// split the same edge for the k-th time, receive identical numbers, so
// crossover can align their genes without a shared counter. A process
// wide unique-id generator would break that alignment and must not be
// used for gene identity.

func ConnectionInnovation(from, to string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(to))
	return h.Sum64()
}

// SplitInnovation marks the neuron created by splitting the (from, to)
// connection. index counts prior splits of the same edge within the
// genotype, so a re-enabled edge can be split again without colliding.
func SplitInnovation(from, to string, index int) uint64 {
	h := fnv.New64a()
	h.Write([]byte(from))
	h.Write([]byte{0})
	h.Write([]byte(to))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", index)
	return h.Sum64()
}

func NodeInnovation(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

// SplitNodeID names the neuron inserted by a split. The name embeds the
// split innovation so repeated identical splits across lineages agree on
// the node identity as well as its marker.
func SplitNodeID(from, to string, index int) string {
	return fmt.Sprintf("n:%016x", SplitInnovation(from, to, index))
}

// Package network builds the social-influence graph customers read prices from.
// Each group is a Watts–Strogatz style ring lattice with random rewiring, and
// groups are joined by sparse random bidirectional links.
package network

import (
	"math/rand"

	"github.com/talgya/pricing-sim/internal/settings"
)

// Network is an adjacency list indexed by customer id. Edges are directed:
// j in Neighbors(i) means customer i hears about j's purchases. Neighbor lists
// may hold duplicates. A Network is never mutated after Build returns.
type Network struct {
	adj       [][]int
	followers [][]int
}

// Build constructs the network for one run. It panics if the settings fail
// validation, since a group smaller than the lattice degree is a programmer error.
func Build(s settings.ProblemSettings, rng *rand.Rand) *Network {
	s.MustValidate()

	n := s.NumCustomers()
	adj := make([][]int, n)
	starts := s.GroupStarts()
	half := s.KNeighbors / 2

	for g := range s.GroupSizes {
		start, end := starts[g], starts[g+1]
		size := end - start

		// Ring lattice: half neighbors forward and half backward, wrapping in-group.
		for i := start; i < end; i++ {
			adj[i] = make([]int, 0, 2*half)
			for k := 1; k <= half; k++ {
				forward := (i-start+k)%size + start
				backward := (i-start+size-k)%size + start
				adj[i] = append(adj[i], forward, backward)
			}
		}

		// Rewire each edge independently within the group.
		for i := start; i < end; i++ {
			for j := range adj[i] {
				if rng.Float64() >= s.PIntra {
					continue
				}
				target := start + rng.Intn(size)
				for !s.AllowSelfLoops && target == i && size > 1 {
					target = start + rng.Intn(size)
				}
				adj[i][j] = target
			}
		}
	}

	// One optional bidirectional link from every node to every other group.
	for g := range s.GroupSizes {
		for i := starts[g]; i < starts[g+1]; i++ {
			for other := range s.GroupSizes {
				if other == g {
					continue
				}
				if rng.Float64() < s.PInter {
					target := starts[other] + rng.Intn(s.GroupSizes[other])
					adj[i] = append(adj[i], target)
					adj[target] = append(adj[target], i)
				}
			}
		}
	}

	return FromAdjacency(adj)
}

// FromAdjacency wraps a prebuilt adjacency list, deriving the reverse index.
// It panics if any neighbor id is out of range.
func FromAdjacency(adj [][]int) *Network {
	followers := make([][]int, len(adj))
	for i, neighbors := range adj {
		for _, j := range neighbors {
			if j < 0 || j >= len(adj) {
				panic("network: neighbor id out of range")
			}
			followers[j] = append(followers[j], i)
		}
	}
	return &Network{adj: adj, followers: followers}
}

// Len returns the number of nodes.
func (n *Network) Len() int {
	return len(n.adj)
}

// Neighbors returns the ids customer i listens to. The slice must not be modified.
func (n *Network) Neighbors(i int) []int {
	return n.adj[i]
}

// Followers returns the ids that list i as a neighbor, once per edge.
func (n *Network) Followers(i int) []int {
	return n.followers[i]
}

// EdgeCount returns the number of directed edges, counting duplicates.
func (n *Network) EdgeCount() int {
	total := 0
	for _, neighbors := range n.adj {
		total += len(neighbors)
	}
	return total
}

// Adjacency returns a deep copy of the adjacency list.
func (n *Network) Adjacency() [][]int {
	out := make([][]int, len(n.adj))
	for i, neighbors := range n.adj {
		out[i] = append([]int(nil), neighbors...)
	}
	return out
}

package deployer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// graph builds bare futures from an adjacency list of dependency indices.
func graph(names []string, deps map[int][]int) []*Future {
	futures := make([]*Future, len(names))
	for i, name := range names {
		futures[i] = &Future{name: name, index: i}
	}
	for i, ds := range deps {
		for _, d := range ds {
			futures[i].deps = append(futures[i].deps, futures[d])
		}
	}
	return futures
}

func names(futures []*Future) []string {
	out := make([]string, len(futures))
	for i, f := range futures {
		out[i] = f.name
	}
	return out
}

func TestResolveTieBreak(t *testing.T) {
	// e depends on a, c depends on e; b and d are independent.
	futures := graph([]string{"c", "b", "e", "a", "d"}, map[int][]int{
		0: {2},
		2: {3},
	})

	order, err := resolve(futures)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	expected := []string{"b", "a", "e", "c", "d"}
	if diff := cmp.Diff(expected, names(order)); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveDeclarationOrderWithoutDependencies(t *testing.T) {
	futures := graph([]string{"x", "y", "z"}, nil)
	order, err := resolve(futures)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if diff := cmp.Diff([]string{"x", "y", "z"}, names(order)); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveTopologicalInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 50; round++ {
		n := 2 + rng.Intn(20)
		labels := make([]string, n)
		for i := range labels {
			labels[i] = string(rune('a'+i%26)) + string(rune('0'+round%10))
		}
		// Edges only point at a random permutation's earlier elements, so
		// the graph is acyclic but not in declaration order.
		perm := rng.Perm(n)
		deps := make(map[int][]int)
		for i := 1; i < n; i++ {
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps[perm[i]] = append(deps[perm[i]], perm[j])
				}
			}
		}
		futures := graph(labels, deps)

		order, err := resolve(futures)
		if err != nil {
			t.Fatalf("Round %d: expected no error, got %v", round, err)
		}
		if len(order) != n {
			t.Fatalf("Round %d: expected %d futures, got %d", round, n, len(order))
		}
		pos := make(map[*Future]int, n)
		for i, f := range order {
			pos[f] = i
		}
		for _, f := range futures {
			for _, dep := range f.deps {
				if pos[dep] >= pos[f] {
					t.Fatalf("Round %d: dependency %s placed after %s", round, dep.name, f.name)
				}
			}
		}
	}
}

func TestResolveCycle(t *testing.T) {
	tests := []struct {
		name     string
		labels   []string
		deps     map[int][]int
		expected []string
	}{
		{
			name:     "pair",
			labels:   []string{"a", "b"},
			deps:     map[int][]int{0: {1}, 1: {0}},
			expected: []string{"a", "b", "a"},
		},
		{
			name:     "self",
			labels:   []string{"a"},
			deps:     map[int][]int{0: {0}},
			expected: []string{"a", "a"},
		},
		{
			name:     "behind an acyclic prefix",
			labels:   []string{"root", "x", "y", "z"},
			deps:     map[int][]int{0: {1}, 1: {2}, 2: {3}, 3: {1}},
			expected: []string{"x", "y", "z", "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolve(graph(tt.labels, tt.deps))
			var cycle *CycleError
			if !errors.As(err, &cycle) {
				t.Fatalf("Expected CycleError, got %v", err)
			}
			if diff := cmp.Diff(tt.expected, cycle.Path); diff != "" {
				t.Errorf("Cycle path mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

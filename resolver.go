package deployer

import (
	"container/heap"
)

// resolve orders futures so that every future appears after all of its
// dependencies. Among futures whose dependencies are met, declaration order
// wins, so the result is deterministic.
func resolve(futures []*Future) ([]*Future, error) {
	if err := detectCycles(futures); err != nil {
		return nil, err
	}

	indegree := make(map[*Future]int, len(futures))
	dependents := make(map[*Future][]*Future, len(futures))
	for _, f := range futures {
		indegree[f] = len(f.deps)
		for _, dep := range f.deps {
			dependents[dep] = append(dependents[dep], f)
		}
	}

	ready := &futureQueue{}
	for _, f := range futures {
		if indegree[f] == 0 {
			heap.Push(ready, f)
		}
	}

	order := make([]*Future, 0, len(futures))
	for ready.Len() > 0 {
		f := heap.Pop(ready).(*Future)
		order = append(order, f)
		for _, next := range dependents[f] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	if len(order) != len(futures) {
		// Unreachable once detectCycles passes.
		return nil, ErrCyclicDependency
	}
	return order, nil
}

// detectCycles walks the graph depth-first, keeping the current path on a
// recursion stack. Reaching a future already on the stack is a cycle.
func detectCycles(futures []*Future) error {
	done := make(map[*Future]bool, len(futures))
	onStack := make(map[*Future]bool)
	var stack []*Future

	var visit func(f *Future) error
	visit = func(f *Future) error {
		done[f] = true
		onStack[f] = true
		stack = append(stack, f)

		for _, dep := range f.deps {
			if onStack[dep] {
				return newCycleError(stack, dep)
			}
			if !done[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[f] = false
		return nil
	}

	for _, f := range futures {
		if !done[f] {
			if err := visit(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// newCycleError reports the stack suffix starting at the repeated future,
// closed by that future again, e.g. a -> b -> a.
func newCycleError(stack []*Future, repeated *Future) *CycleError {
	start := 0
	for i, f := range stack {
		if f == repeated {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.name)
	}
	path = append(path, repeated.name)
	return &CycleError{Path: path}
}

// futureQueue is a min-heap of futures by declaration index.
type futureQueue []*Future

func (q futureQueue) Len() int           { return len(q) }
func (q futureQueue) Less(i, j int) bool { return q[i].index < q[j].index }
func (q futureQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *futureQueue) Push(x any) {
	*q = append(*q, x.(*Future))
}

func (q *futureQueue) Pop() any {
	old := *q
	n := len(old)
	f := old[n-1]
	*q = old[:n-1]
	return f
}

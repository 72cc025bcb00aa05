package toolchain

import "sync"

// Deduplicates shared build invocations across sibling output nodes.
//
// The first caller for a key runs the build; every later caller for the
// same key observes the stored result without re-running it.
type Invocations struct {
	mu   sync.Mutex
	runs map[string]*invocation
}

type invocation struct {
	once sync.Once
	err  error
}

func NewInvocations() *Invocations {
	return &Invocations{runs: make(map[string]*invocation)}
}

// Runs fn once per key and returns its result for every caller.
func (i *Invocations) Do(key string, fn func() error) error {
	i.mu.Lock()
	inv, ok := i.runs[key]
	if !ok {
		inv = &invocation{}
		i.runs[key] = inv
	}
	i.mu.Unlock()

	inv.once.Do(func() { inv.err = fn() })
	return inv.err
}

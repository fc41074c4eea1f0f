// Package replicas implements the synchronization scopes used by the losses to mark which passes take part
// in the cross-replica gradient reduction.
package replicas

import (
	"fmt"
	"k8s.io/klog/v2"
	"sync"
)

// Local is the SynchronizationScope of a single replica: there is nothing to reduce, but it keeps
// track of the scopes entered, so the training loop can check (and log) which passes were synchronized.
//
// It is safe for concurrent use.
type Local struct {
	mu sync.Mutex

	// active counts the scopes currently entered, per module.
	active map[string]int

	// synchronized and local count the passes entered with and without synchronization, per module.
	synchronized, local map[string]int
}

// NewLocal creates a Local synchronization scope.
func NewLocal() *Local {
	return &Local{
		active:       make(map[string]int),
		synchronized: make(map[string]int),
		local:        make(map[string]int),
	}
}

// Enter implements losses.SynchronizationScope.
func (r *Local) Enter(module string, synchronize bool) (exit func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[module]++
	if synchronize {
		r.synchronized[module]++
	} else {
		r.local[module]++
	}
	klog.V(3).Infof("replicas: enter %s (synchronize=%v)", module, synchronize)
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.active[module]--
			klog.V(3).Infof("replicas: exit %s", module)
		})
	}
}

// Active returns the number of scopes of the module currently entered.
func (r *Local) Active(module string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[module]
}

// Counts returns how many times the module was entered with and without synchronization.
func (r *Local) Counts(module string) (synchronized, local int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synchronized[module], r.local[module]
}

// String implements fmt.Stringer.
func (r *Local) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("replicas.Local(synchronized=%v, local=%v)", r.synchronized, r.local)
}

package tcp

import (
	"fmt"
	"sync/atomic"
)

// AddressPool round-robins requests across a fixed set of addresses, the
// address-level counterpart of a service-discovery balancer for a
// transport with no discovery layer of its own: Pick simply distributes
// across whatever addresses it was configured with. Uses an atomic
// counter for lock-free, goroutine-safe operation.
type AddressPool struct {
	addresses []string
	counter   int64
}

// NewAddressPool builds a pool over addresses. addresses must be non-empty.
func NewAddressPool(addresses []string) (*AddressPool, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("tcp: address pool requires at least one address")
	}
	cp := make([]string, len(addresses))
	copy(cp, addresses)
	return &AddressPool{addresses: cp}, nil
}

// Pick selects the next address in round-robin order.
func (p *AddressPool) Pick() string {
	index := atomic.AddInt64(&p.counter, 1) % int64(len(p.addresses))
	return p.addresses[index]
}

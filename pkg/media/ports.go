package media

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
)

// PortAllocationStrategy порядок выдачи портов из пула
type PortAllocationStrategy int

const (
	// PortAllocationSequential наименьший свободный порт
	PortAllocationSequential PortAllocationStrategy = iota
	// PortAllocationRandom случайный свободный порт
	PortAllocationRandom
)

func (s PortAllocationStrategy) String() string {
	switch s {
	case PortAllocationSequential:
		return "sequential"
	case PortAllocationRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ErrNoPortsAvailable все порты пула заняты
var ErrNoPortsAvailable = errors.New("нет доступных портов")

// PortPool пул четных RTP портов в диапазоне [min, max].
// Нечетный порт над каждым выданным остается за RTCP.
type PortPool struct {
	minPort  uint16
	maxPort  uint16
	strategy PortAllocationStrategy

	mu        sync.Mutex
	free      []uint16 // по возрастанию
	allocated map[uint16]struct{}
}

// NewPortPool создает пул; step - шаг между соседними портами (обычно 2)
func NewPortPool(minPort, maxPort uint16, step int, strategy PortAllocationStrategy) *PortPool {
	if step <= 0 {
		step = 2
	}
	pool := &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		strategy:  strategy,
		allocated: make(map[uint16]struct{}),
	}
	for port := int(minPort); port <= int(maxPort); port += step {
		pool.free = append(pool.free, uint16(port))
	}
	return pool
}

// Allocate выдает свободный порт
func (p *PortPool) Allocate() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, fmt.Errorf("%w в диапазоне [%d, %d]", ErrNoPortsAvailable, p.minPort, p.maxPort)
	}

	idx := 0
	if p.strategy == PortAllocationRandom {
		idx = rand.IntN(len(p.free))
	}
	port := p.free[idx]
	p.free = slices.Delete(p.free, idx, idx+1)
	p.allocated[port] = struct{}{}
	return port, nil
}

// Release возвращает порт в пул
func (p *PortPool) Release(port uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if port < p.minPort || port > p.maxPort {
		return fmt.Errorf("порт %d вне диапазона [%d, %d]", port, p.minPort, p.maxPort)
	}
	if _, ok := p.allocated[port]; !ok {
		return fmt.Errorf("порт %d не был выделен", port)
	}
	delete(p.allocated, port)

	idx, _ := slices.BinarySearch(p.free, port)
	p.free = slices.Insert(p.free, idx, port)
	return nil
}

// Available число свободных портов
func (p *PortPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

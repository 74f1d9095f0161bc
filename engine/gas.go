package engine

import "math"

func saturatingAdd(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return math.MaxUint64
}

// gasMeter keeps interpreter gas and host-service gas apart so neither is
// charged twice, and checks their sum against one limit.
type gasMeter struct {
	limit        uint64
	used         uint64
	usedExternal uint64
}

// Total is the gas charged so far by both counters.
func (g *gasMeter) Total() uint64 {
	return saturatingAdd(g.used, g.usedExternal)
}

func (g *gasMeter) depleted() bool {
	return g.limit <= g.Total()
}

// useGas charges interpreter gas.
func (g *gasMeter) useGas(amount uint64) error {
	g.used = saturatingAdd(g.used, amount)
	return g.check()
}

// useGasExternally charges gas for host-mediated services.
func (g *gasMeter) useGasExternally(amount uint64) error {
	g.usedExternal = saturatingAdd(g.usedExternal, amount)
	return g.check()
}

func (g *gasMeter) check() error {
	if g.depleted() {
		return newTrap(TrapOutOfGas, nil)
	}
	return nil
}

package escrow

// reentrancyGuard is a contract-wide lock. It is held for the whole of a guarded call,
// including any code a payout recipient runs, and released however the call exits.
type reentrancyGuard struct {
	entered bool
}

func (g *reentrancyGuard) acquire() (release func(), err error) {
	if g.entered {
		return nil, ErrReentrantCall
	}

	g.entered = true
	return func() { g.entered = false }, nil
}

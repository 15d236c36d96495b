// Package simulator provides an in-process TPM for tests and for the
// "simulator:" device name. The simulator is only available in binaries
// built with the tpmsimulator tag.
package simulator

// Option configures a [Simulator].
type Option func(*Simulator)

// WithSeed makes the simulator derive its primary seeds from seed, so
// primary keys are identical across runs. It must not be used outside of
// tests.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.seed = &seed
	}
}

package services

import (
	"github.com/ThomasPf/Clonos/pkg/causal"
	"github.com/ThomasPf/Clonos/pkg/causal/determinant"
	"github.com/ThomasPf/Clonos/pkg/causal/log/job"
)

// RandomService is the task-facing random source. Every draw is recorded
// as an RNG determinant so a standby replica can replay it. Not thread
// safe: it runs on the producer thread, which already holds the vertex
// lock for the append.
type RandomService struct {
	causalLog     job.CausalLog
	epochProvider causal.EpochProvider
	rng           xorshiftState
	reuse         *determinant.RNGDeterminant
}

func NewRandomService(causalLog job.CausalLog, epochProvider causal.EpochProvider, seed uint64) *RandomService {
	if seed == 0 {
		seed = 0x2545F4914F6CDD1D
	}
	return &RandomService{
		causalLog:     causalLog,
		epochProvider: epochProvider,
		rng:           xorshiftState(seed),
		reuse:         determinant.NewRNGDeterminant(0),
	}
}

func (s *RandomService) NextUint32() (uint32, error) {
	generated := s.rng.next32()
	err := s.causalLog.AppendDeterminant(s.reuse.Replace(generated), s.epochProvider.CurrentEpochID())
	return generated, err
}

// NextIntn draws from [0, maxExclusive).
func (s *RandomService) NextIntn(maxExclusive uint32) (uint32, error) {
	n, err := s.NextUint32()
	if err != nil {
		return 0, err
	}
	return n % maxExclusive, nil
}

type xorshiftState uint64

func (s *xorshiftState) next32() uint32 {
	x := uint64(*s)
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	*s = xorshiftState(x)
	return uint32(x >> 32)
}

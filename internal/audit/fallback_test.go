package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type FallbackSuite struct {
	suite.Suite
}

func TestFallbackSuite(t *testing.T) {
	suite.Run(t, new(FallbackSuite))
}

func event(n int) Event {
	return Event{ActorID: fmt.Sprintf("actor-%d", n), Action: ActionRead}
}

func (s *FallbackSuite) TestAppendWithinCapacity() {
	log := NewFallbackLog(3)
	log.Append(event(1))
	log.Append(event(2))

	s.Equal(2, log.Len())
	s.EqualValues(0, log.Evicted())

	snap := log.Snapshot()
	s.Require().Len(snap, 2)
	s.Equal("actor-1", snap[0].ActorID)
	s.Equal("actor-2", snap[1].ActorID)
}

func (s *FallbackSuite) TestCapEvictsOldest() {
	log := NewFallbackLog(3)
	for i := 1; i <= 5; i++ {
		log.Append(event(i))
	}

	s.Equal(3, log.Len())
	s.EqualValues(2, log.Evicted())

	snap := log.Snapshot()
	s.Require().Len(snap, 3)
	s.Equal("actor-3", snap[0].ActorID)
	s.Equal("actor-5", snap[2].ActorID)
}

func (s *FallbackSuite) TestDrainBatch() {
	log := NewFallbackLog(5)
	for i := 1; i <= 4; i++ {
		log.Append(event(i))
	}

	s.Run("drains oldest first", func() {
		batch := log.DrainBatch(2)
		s.Require().Len(batch, 2)
		s.Equal("actor-1", batch[0].ActorID)
		s.Equal("actor-2", batch[1].ActorID)
		s.Equal(2, log.Len())
	})

	s.Run("drain larger than content returns what exists", func() {
		batch := log.DrainBatch(10)
		s.Len(batch, 2)
		s.Equal(0, log.Len())
	})

	s.Run("empty log drains nil", func() {
		s.Nil(log.DrainBatch(3))
	})
}

func (s *FallbackSuite) TestWrapAroundOrdering() {
	log := NewFallbackLog(2)
	for i := 1; i <= 7; i++ {
		log.Append(event(i))
	}

	batch := log.DrainBatch(2)
	s.Require().Len(batch, 2)
	s.Equal("actor-6", batch[0].ActorID)
	s.Equal("actor-7", batch[1].ActorID)
}

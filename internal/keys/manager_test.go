package keys

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaultrail/pkg/platform/sentinel"
)

type ManagerSuite struct {
	suite.Suite
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(WithLogger(logger))
	s.Require().NoError(err)
	s.manager = m
}

func (s *ManagerSuite) TestNewManagerStartsAtVersionOne() {
	active, err := s.manager.Active()
	s.Require().NoError(err)
	s.Equal(1, active.Version)
	s.True(active.Active)
	s.Len(active.Material, 32)
	s.Equal(AlgorithmAESGCM, active.Algorithm)
}

func (s *ManagerSuite) TestRotate() {
	s.Run("activates next version and retires current", func() {
		next, err := s.manager.Rotate()
		s.Require().NoError(err)
		s.Equal(2, next.Version)
		s.Equal(2, s.manager.ActiveVersion())

		old, err := s.manager.ByVersion(1)
		s.Require().NoError(err)
		s.False(old.Active)
		s.Require().NotNil(old.ExpiresAt)
		s.True(old.ExpiresAt.After(time.Now()))
	})

	s.Run("retired key stays available for decryption", func() {
		_, err := s.manager.ByVersion(1)
		s.NoError(err)
	})

	s.Run("fresh material per rotation", func() {
		v2, err := s.manager.ByVersion(2)
		s.Require().NoError(err)
		v1, err := s.manager.ByVersion(1)
		s.Require().NoError(err)
		s.NotEqual(v1.Material, v2.Material)
	})
}

func (s *ManagerSuite) TestConcurrentRotationsShareOneRotation() {
	const callers = 16
	var wg sync.WaitGroup
	versions := make([]int, callers)

	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			rec, err := s.manager.Rotate()
			if err == nil {
				versions[i] = rec.Version
			}
		}()
	}
	wg.Wait()

	// Every caller observes a completed rotation; overlapping calls share one.
	s.LessOrEqual(s.manager.ActiveVersion(), callers+1)
	s.GreaterOrEqual(s.manager.ActiveVersion(), 2)
	for _, v := range versions {
		s.GreaterOrEqual(v, 2)
	}
}

func (s *ManagerSuite) TestByVersionMissing() {
	_, err := s.manager.ByVersion(99)
	s.ErrorIs(err, sentinel.ErrKeyNotFound)
}

func (s *ManagerSuite) TestPurgeExpired() {
	m, err := NewManager(WithExpiryHorizon(-time.Second))
	s.Require().NoError(err)

	s.Run("active and unexpired keys are never purged", func() {
		s.Equal(0, m.PurgeExpired())
		_, err := m.ByVersion(1)
		s.NoError(err)
	})

	s.Run("retired key past its horizon is removed", func() {
		_, err := m.Rotate()
		s.Require().NoError(err)

		s.Equal(1, m.PurgeExpired())
		_, err = m.ByVersion(1)
		s.ErrorIs(err, sentinel.ErrKeyNotFound)

		_, err = m.Active()
		s.NoError(err)
	})
}

func (s *ManagerSuite) TestInfo() {
	_, err := s.manager.Rotate()
	s.Require().NoError(err)

	infos := s.manager.Info()
	s.Require().Len(infos, 2)

	s.Run("newest first", func() {
		s.Equal(2, infos[0].Version)
		s.Equal(1, infos[1].Version)
	})

	s.Run("flags active version only", func() {
		s.True(infos[0].Active)
		s.False(infos[1].Active)
	})
}

package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater records calls for assertions in tests.
type MockStatsUpdater struct {
	mock.Mock
}

var _ StatsProvider = (*MockStatsUpdater)(nil)

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}

// RegisterGauge reads the gauge once so tests exercise it.
func (m *MockStatsUpdater) RegisterGauge(name string, fn func() int64) {
	m.Called(name, fn)
	fn()
}

func (m *MockStatsUpdater) Run() {
	m.Called()
}

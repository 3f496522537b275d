package scheduler

import "testing"

func TestAddJobValidatesExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("*/10 * * * *", func() {}); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := s.AddJob("not-a-cron", func() {}); err == nil {
		t.Error("invalid expression accepted")
	}
}

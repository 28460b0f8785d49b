package config

import (
	"testing"
	"time"
)

func TestAlertDeadlines(t *testing.T) {
	if AlertDeadlineDefault >= AlertDeadlineAutonomous {
		t.Errorf("AlertDeadlineDefault (%v) should be less than AlertDeadlineAutonomous (%v)",
			AlertDeadlineDefault, AlertDeadlineAutonomous)
	}
}

func TestJobSubmitBackoff(t *testing.T) {
	if JobSubmitBackoffInitial >= JobSubmitBackoffSecond {
		t.Errorf("JobSubmitBackoffInitial (%v) should be less than JobSubmitBackoffSecond (%v)",
			JobSubmitBackoffInitial, JobSubmitBackoffSecond)
	}
	if JobSubmitMaxRetries <= 0 {
		t.Error("JobSubmitMaxRetries should be positive")
	}
}

func TestAISelectorDefaults(t *testing.T) {
	if AISelectorK > AISelectorCandidatePoolSize {
		t.Errorf("AISelectorK (%d) should not exceed AISelectorCandidatePoolSize (%d)",
			AISelectorK, AISelectorCandidatePoolSize)
	}
	if AISelectorSimilarityFloor <= 0 || AISelectorSimilarityFloor > 1 {
		t.Errorf("AISelectorSimilarityFloor (%v) should be in (0, 1]", AISelectorSimilarityFloor)
	}
	if AISelectorConfidenceFloor <= 0 || AISelectorConfidenceFloor > 1 {
		t.Errorf("AISelectorConfidenceFloor (%v) should be in (0, 1]", AISelectorConfidenceFloor)
	}
	if AutonomousConfidence != 1.0 {
		t.Errorf("AutonomousConfidence should be 1.0 by convention, got %v", AutonomousConfidence)
	}
}

func TestMatcherWindows(t *testing.T) {
	if MatcherRefreshInterval > MatcherStalenessWindow {
		t.Errorf("MatcherRefreshInterval (%v) should not exceed MatcherStalenessWindow (%v)",
			MatcherRefreshInterval, MatcherStalenessWindow)
	}
}

func TestPaginationLimits(t *testing.T) {
	if DefaultPaginationLimit > MaxPaginationLimit {
		t.Errorf("DefaultPaginationLimit (%d) should not exceed MaxPaginationLimit (%d)",
			DefaultPaginationLimit, MaxPaginationLimit)
	}

	if DefaultPaginationLimit <= 0 {
		t.Error("DefaultPaginationLimit should be positive")
	}

	if MaxPaginationLimit <= 0 {
		t.Error("MaxPaginationLimit should be positive")
	}
}

func TestCacheTTLs(t *testing.T) {
	ttls := []struct {
		name string
		ttl  time.Duration
	}{
		{"FlagsSnapshot", CacheTTLFlagsSnapshot},
		{"AlertStats", CacheTTLAlertStats},
	}

	for _, tt := range ttls {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ttl <= 0 {
				t.Errorf("Cache TTL for %s should be positive, got %v", tt.name, tt.ttl)
			}
			if tt.ttl > 5*time.Minute {
				t.Errorf("Cache TTL for %s (%v) seems too long", tt.name, tt.ttl)
			}
		})
	}
}

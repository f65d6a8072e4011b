package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUrgencyClassification(t *testing.T) {
	tests := []struct {
		name      string
		situation Situation
		want      Urgency
	}{
		{"empty", Situation{}, UrgencyNormal},
		{"one critical wins", Situation{CriticalCount: 1}, UrgencyCritical},
		{"critical beats high", Situation{CriticalCount: 1, HighRiskCount: 10}, UrgencyCritical},
		{"three high-risk", Situation{HighRiskCount: 3}, UrgencyHigh},
		{"two high-risk is not enough", Situation{HighRiskCount: 2}, UrgencyNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.situation.Urgency())
			assert.Equal(t, tt.want != UrgencyNormal, tt.situation.RequiresAction())
		})
	}
}

func TestItemsAtRisk(t *testing.T) {
	s := Situation{Items: []Item{
		{SubjectID: "a", Risk: RiskNormal},
		{SubjectID: "b", Risk: RiskHigh},
		{SubjectID: "c", Risk: RiskCritical},
	}}

	critical := s.ItemsAtRisk(RiskCritical)
	assert.Len(t, critical, 1)
	assert.Equal(t, "c", critical[0].SubjectID)

	highOrWorse := s.ItemsAtRisk(RiskHigh)
	assert.Len(t, highOrWorse, 2)
}

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatasourceOnEventReceived(t *testing.T) {
	tests := []struct {
		current DatasourceStatus
		want    DatasourceStatus
	}{
		{DatasourceInitializing, DatasourceInitializing},
		{DatasourceProcessing, DatasourceProcessing},
		{DatasourceReadyForNextProcessing, DatasourceReadyForNextProcessing},
		{DatasourceIngesting, DatasourceIngesting},
		{DatasourceReadyForProcessing, DatasourceIngesting},
		{DatasourceIdle, DatasourceIngesting},
		{DatasourceProcessingError, DatasourceIngesting},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.current.OnEventReceived(), "from %s", tt.current)
	}
}

func TestDatasetOnEventReceived(t *testing.T) {
	tests := []struct {
		current DatasetStatus
		want    DatasetStatus
	}{
		{DatasetInitializing, DatasetInitializing},
		{DatasetProcessing, DatasetProcessing},
		{DatasetIngesting, DatasetIngesting},
		{DatasetReadyForProcessing, DatasetIngesting},
		{DatasetIdle, DatasetIngesting},
		{DatasetProcessingError, DatasetIngesting},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.current.OnEventReceived(), "from %s", tt.current)
	}
}

func TestDatasourceBusy(t *testing.T) {
	busy := []DatasourceStatus{DatasourceInitializing, DatasourceIngesting, DatasourceProcessing, DatasourceReadyForNextProcessing}
	for _, s := range busy {
		assert.True(t, s.Busy(), "%s", s)
	}
	settled := []DatasourceStatus{DatasourceReadyForProcessing, DatasourceIdle, DatasourceProcessingError}
	for _, s := range settled {
		assert.False(t, s.Busy(), "%s", s)
	}
}

func TestEventStatusCounts(t *testing.T) {
	assert.True(t, EventStatusCounts{}.AllSettled())
	assert.True(t, EventStatusCounts{EventReadyForProcessing: 2, EventProcessed: 1}.AllSettled())
	assert.False(t, EventStatusCounts{EventReadyForProcessing: 2, EventIngesting: 1}.AllSettled())
	assert.False(t, EventStatusCounts{EventProcessingError: 1}.AllSettled())
	assert.Equal(t, 3, EventStatusCounts{EventReadyForProcessing: 2, EventIngesting: 1}.Total())
}

package catalog

// Statuses are distinct types per entity on purpose: the three lifecycles
// share names but not transition rules, and mixing them up has caused real
// bugs in predecessors of this service.

// EventStatus is the lifecycle of one DatasourceEvent.
type EventStatus string

const (
	EventIngesting          EventStatus = "INGESTING"
	EventReadyForProcessing EventStatus = "READY_FOR_PROCESSING"
	EventProcessed          EventStatus = "PROCESSED"
	EventProcessingError    EventStatus = "PROCESSING_ERROR"
)

// Terminal reports whether no further transition is expected for the event.
func (s EventStatus) Terminal() bool {
	return s == EventProcessed || s == EventProcessingError
}

// Settled reports whether the event no longer blocks its datasource from
// being handed to downstream processing.
func (s EventStatus) Settled() bool {
	return s == EventReadyForProcessing || s == EventProcessed
}

// DatasourceStatus is the lifecycle of one Datasource aggregate.
type DatasourceStatus string

const (
	DatasourceInitializing           DatasourceStatus = "INITIALIZING"
	DatasourceIngesting              DatasourceStatus = "INGESTING"
	DatasourceReadyForProcessing     DatasourceStatus = "READY_FOR_PROCESSING"
	DatasourceProcessing             DatasourceStatus = "PROCESSING"
	DatasourceReadyForNextProcessing DatasourceStatus = "READY_FOR_NEXT_PROCESSING"
	DatasourceIdle                   DatasourceStatus = "IDLE"
	DatasourceProcessingError        DatasourceStatus = "PROCESSING_ERROR"
)

// Sticky reports whether an incoming event leaves the status untouched.
// Everything else falls back to INGESTING when a new event arrives.
func (s DatasourceStatus) Sticky() bool {
	switch s {
	case DatasourceInitializing, DatasourceProcessing, DatasourceReadyForNextProcessing:
		return true
	}
	return false
}

// OnEventReceived returns the status the datasource takes when an event
// arrives for it.
func (s DatasourceStatus) OnEventReceived() DatasourceStatus {
	if s.Sticky() {
		return s
	}
	return DatasourceIngesting
}

// OnEventRecorded returns the status the datasource takes after one of its
// events has been persisted successfully. INITIALIZING is kept so historical
// backfill can finish before processing starts; PROCESSING and
// READY_FOR_NEXT_PROCESSING are kept so a running processing job is not
// preempted.
func (s DatasourceStatus) OnEventRecorded() DatasourceStatus {
	if s.Sticky() {
		return s
	}
	return DatasourceReadyForProcessing
}

// Busy reports whether the datasource still holds up its datasets: it is
// being filled, or downstream processing has claimed it.
func (s DatasourceStatus) Busy() bool {
	switch s {
	case DatasourceInitializing, DatasourceIngesting, DatasourceProcessing, DatasourceReadyForNextProcessing:
		return true
	}
	return false
}

// DatasetStatus is the lifecycle of one Dataset aggregate.
type DatasetStatus string

const (
	DatasetInitializing       DatasetStatus = "INITIALIZING"
	DatasetIngesting          DatasetStatus = "INGESTING"
	DatasetReadyForProcessing DatasetStatus = "READY_FOR_PROCESSING"
	DatasetProcessing         DatasetStatus = "PROCESSING"
	DatasetIdle               DatasetStatus = "IDLE"
	DatasetProcessingError    DatasetStatus = "PROCESSING_ERROR"
)

// Sticky reports whether an incoming event leaves the status untouched.
func (s DatasetStatus) Sticky() bool {
	return s == DatasetInitializing || s == DatasetProcessing
}

// OnEventReceived returns the status the dataset takes when an event arrives
// for one of its datasources.
func (s DatasetStatus) OnEventReceived() DatasetStatus {
	if s.Sticky() {
		return s
	}
	return DatasetIngesting
}

// OnEventRecorded returns the status the dataset takes after an event under
// one of its datasources has been persisted successfully.
func (s DatasetStatus) OnEventRecorded() DatasetStatus {
	if s.Sticky() {
		return s
	}
	return DatasetReadyForProcessing
}

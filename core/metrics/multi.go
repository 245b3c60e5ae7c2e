package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSend forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordSend(ev SendEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordSend(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordSyncState forwards buffer health when supported by the sink.
func (m *MultiSink) RecordSyncState(ev SyncStateEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SyncStateRecorder); ok {
			if err := rec.RecordSyncState(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordFeedStatus forwards feed connectivity changes.
func (m *MultiSink) RecordFeedStatus(ev FeedStatusEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(FeedStatusRecorder); ok {
			if err := rec.RecordFeedStatus(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordFeedDrop forwards malformed feed messages.
func (m *MultiSink) RecordFeedDrop(ev FeedDropEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(FeedDropRecorder); ok {
			if err := rec.RecordFeedDrop(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordOffer forwards offer resolutions.
func (m *MultiSink) RecordOffer(ev OfferEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(OfferRecorder); ok {
			if err := rec.RecordOffer(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordEmergency forwards SOS submissions.
func (m *MultiSink) RecordEmergency(ev EmergencyEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(EmergencyRecorder); ok {
			if err := rec.RecordEmergency(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the sinks that hold connections.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

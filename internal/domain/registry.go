package domain

import (
	"sync"
	"time"
)

// InverterRegistry implements the Registry interface.
type InverterRegistry struct {
	inverters map[string]*InverterRecord
	mutex     sync.RWMutex
}

// NewInverterRegistry creates a new inverter registry.
func NewInverterRegistry() *InverterRegistry {
	return &InverterRegistry{
		inverters: make(map[string]*InverterRecord),
	}
}

// Register adds or updates an inverter in the registry.
func (r *InverterRegistry) Register(model *ModelInfo, addr string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, exists := r.inverters[model.SerialNumber]
	if !exists {
		record = &InverterRecord{
			Model:       model,
			Addr:        addr,
			ConnectedAt: time.Now(),
		}
		r.inverters[model.SerialNumber] = record
	} else {
		record.Model = model
		record.Addr = addr
	}
	record.LastSeen = time.Now()
}

// UpdateReading stores the most recent reading for an inverter.
func (r *InverterRegistry) UpdateReading(serial string, reading *StatusReading) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, exists := r.inverters[serial]
	if !exists {
		return
	}
	record.LastReading = reading
	record.LastSeen = time.Now()
}

// Remove deletes an inverter from the registry.
func (r *InverterRegistry) Remove(serial string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.inverters, serial)
}

// Get retrieves information about an inverter.
func (r *InverterRegistry) Get(serial string) (*InverterRecord, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, exists := r.inverters[serial]
	if !exists {
		return nil, false
	}
	return record, true
}

// All returns information about all connected inverters.
func (r *InverterRegistry) All() []*InverterRecord {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	records := make([]*InverterRecord, 0, len(r.inverters))
	for _, record := range r.inverters {
		records = append(records, record)
	}
	return records
}

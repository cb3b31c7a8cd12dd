package sensor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-station-feed/internal/station"
)

// State is the host-visible view of a sensor at one point in time.
type State struct {
	ID       string         `json:"id"`
	ObjectID string         `json:"objectId"`
	Name     string         `json:"name"`
	Metric   station.Metric `json:"metric"`
	Unit     string         `json:"unit,omitempty"`
	Icon     string         `json:"icon,omitempty"`

	// Value is nil when the last snapshot did not carry the metric.
	Value *string `json:"value"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// StateWriter receives sensor states on every refresh. It is the hook into
// whatever display or storage layer the host owns.
type StateWriter interface {
	WriteState(ctx context.Context, st State) error
}

// Sensor projects one metric of the current snapshot. Its metadata is fixed
// at construction; only the value changes.
type Sensor struct {
	id       uuid.UUID
	objectID string
	name     string
	desc     station.Descriptor
	writer   StateWriter

	mu        sync.RWMutex
	value     *string
	updatedAt time.Time
}

// New creates a sensor for desc. The sensor id is derived from source and
// the metric so it is stable across restarts.
func New(source, prefix string, desc station.Descriptor, writer StateWriter) *Sensor {
	name := string(desc.Metric)
	if prefix != "" {
		name = prefix + " " + name
	}
	return &Sensor{
		id:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+string(desc.Metric))),
		objectID: objectID(name),
		name:     name,
		desc:     desc,
		writer:   writer,
	}
}

func (s *Sensor) ID() string             { return s.id.String() }
func (s *Sensor) Name() string           { return s.name }
func (s *Sensor) Metric() station.Metric { return s.desc.Metric }

// LoadData takes the sensor's value from snap, clearing it when the metric
// is absent. It always asks for a refresh.
func (s *Sensor) LoadData(snap station.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := snap.Value(s.desc.Metric); ok {
		s.value = &v
	} else {
		s.value = nil
	}
	s.updatedAt = snap.FetchedAt()
	return true
}

// Refresh pushes the current state to the host writer.
func (s *Sensor) Refresh(ctx context.Context) error {
	if s.writer == nil {
		return nil
	}
	return s.writer.WriteState(ctx, s.State())
}

// State returns a copy of the sensor's current state.
func (s *Sensor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		ID:        s.id.String(),
		ObjectID:  s.objectID,
		Name:      s.name,
		Metric:    s.desc.Metric,
		Unit:      s.desc.Unit,
		Icon:      s.desc.Icon,
		UpdatedAt: s.updatedAt,
	}
	if s.value != nil {
		v := *s.value
		st.Value = &v
	}
	return st
}

// objectID turns a display name into a lowercase snake_case identifier,
// e.g. "lt Wind speed" -> "lt_wind_speed".
func objectID(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

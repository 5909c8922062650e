package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"oms-gateway/internal/canonical"
)

// Entry pairs an OMS order id with the venue's id. The pairing never changes
// once made; status fields follow the order's streaming updates.
type Entry struct {
	OwnOrderID   string           `json:"ownOrderId"`
	VenueOrderID string           `json:"venueOrderId"`
	Status       canonical.Status `json:"status"`
	Completed    bool             `json:"isCompleted"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Correlation is one tenant's bidirectional order id map. Every read and
// write goes through mu.
type Correlation struct {
	mu      sync.Mutex
	byOwn   map[string]string
	byVenue map[string]*Entry
	log     *zap.Logger
}

// NewCorrelation returns an empty store.
func NewCorrelation(log *zap.Logger) *Correlation {
	if log == nil {
		log = zap.NewNop()
	}
	return &Correlation{
		byOwn:   make(map[string]string),
		byVenue: make(map[string]*Entry),
		log:     log,
	}
}

// RecordPlacement pairs ownID with venueID. Reusing ownID moves it to the
// new venue id (last write wins). A venue id already paired with a different
// own id is left untouched and ErrCorrelationConflict is returned.
func (c *Correlation) RecordPlacement(ownID, venueID string) error {
	if ownID == "" || venueID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byVenue[venueID]; ok && e.OwnOrderID != "" && e.OwnOrderID != ownID {
		c.log.Error("venue order id already paired",
			zap.String("venue_order_id", venueID),
			zap.String("paired_own_id", e.OwnOrderID),
			zap.String("rejected_own_id", ownID))
		return ErrCorrelationConflict
	}
	if prev, ok := c.byOwn[ownID]; ok && prev != venueID {
		c.log.Warn("own order id reused, mapping overwritten",
			zap.String("own_order_id", ownID),
			zap.String("previous_venue_order_id", prev),
			zap.String("venue_order_id", venueID))
	}

	c.byOwn[ownID] = venueID
	e, ok := c.byVenue[venueID]
	if !ok {
		e = &Entry{VenueOrderID: venueID}
		c.byVenue[venueID] = e
	}
	e.OwnOrderID = ownID
	e.UpdatedAt = time.Now()
	return nil
}

// Resolve maps an own id or a known venue id to the venue id.
func (c *Correlation) Resolve(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if venueID, ok := c.byOwn[id]; ok {
		return venueID, nil
	}
	if _, ok := c.byVenue[id]; ok {
		return id, nil
	}
	return "", ErrOrderNotFound
}

// OwnID returns the own id paired with venueID, if any.
func (c *Correlation) OwnID(venueID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byVenue[venueID]; ok {
		return e.OwnOrderID
	}
	return ""
}

// Observe records a streaming update. A venue id first seen here becomes a
// known venue id; a venue tag is adopted as the own id when none is paired.
// It returns the own id for the order.
func (c *Correlation) Observe(o canonical.Order) string {
	if o.VenueOrderID == "" {
		return o.OwnOrderID
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byVenue[o.VenueOrderID]
	if !ok {
		e = &Entry{VenueOrderID: o.VenueOrderID}
		c.byVenue[o.VenueOrderID] = e
	}
	if e.OwnOrderID == "" && o.OwnOrderID != "" {
		if _, taken := c.byOwn[o.OwnOrderID]; !taken {
			e.OwnOrderID = o.OwnOrderID
			c.byOwn[o.OwnOrderID] = o.VenueOrderID
		}
	}
	e.Status = o.Status
	e.Completed = o.IsCompleted
	e.UpdatedAt = time.Now()
	return e.OwnOrderID
}

// Lookup returns a copy of the entry for an own or venue id.
func (c *Correlation) Lookup(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if venueID, ok := c.byOwn[id]; ok {
		id = venueID
	}
	e, ok := c.byVenue[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of known venue orders.
func (c *Correlation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byVenue)
}

// Package events pushes incident notifications onto NATS so downstream
// consumers (alerting, dashboards) see violations without polling the API.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-comply/internal/schema"
)

const (
	DefaultSubject = "comply.incidents"

	dedupKeys = 4096
	dedupTTL  = 5 * time.Minute
)

// IncidentEvent is the wire shape of one published violation.
type IncidentEvent struct {
	VideoID         string    `json:"video_id"`
	RuleType        string    `json:"rule_type"`
	RuleDescription string    `json:"rule_description"`
	Severity        string    `json:"severity"`
	Reason          string    `json:"reason"`
	Timestamp       *float64  `json:"timestamp"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Conn is the slice of nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// Publisher emits incident events with bounded retry and a short dedup
// window, so re-analysis of the same chunk does not double-alert.
type Publisher struct {
	conn       Conn
	subject    string
	maxRetries int
	dedup      *lru.Cache[string, time.Time]
	ttl        time.Duration

	now func() time.Time // test hook
}

func NewPublisher(conn Conn, subject string, maxRetries int) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	cache, _ := lru.New[string, time.Time](dedupKeys)
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		dedup:      cache,
		ttl:        dedupTTL,
		now:        time.Now,
	}
}

// PublishIncidents emits one event per incident in the report. Publish
// failures are logged and swallowed; alerting is best-effort and never fails
// an analysis request.
func (p *Publisher) PublishIncidents(rep *schema.Report) {
	for _, v := range rep.Incidents {
		evt := IncidentEvent{
			VideoID:         rep.VideoID,
			RuleType:        v.RuleType,
			RuleDescription: v.RuleDescription,
			Severity:        v.Severity,
			Reason:          v.Reason,
			Timestamp:       v.Timestamp,
			OccurredAt:      p.now().UTC(),
		}
		if p.isDuplicate(dedupKey(rep.VideoID, v)) {
			continue
		}
		if err := p.publish(evt); err != nil {
			log.Printf("[WARN] Events: publish failed for %s / %q: %v", rep.VideoID, v.RuleDescription, err)
		}
	}
}

func (p *Publisher) publish(evt IncidentEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	for i := 0; ; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		if i >= p.maxRetries {
			return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
}

func (p *Publisher) isDuplicate(key string) bool {
	if addedAt, ok := p.dedup.Get(key); ok && p.now().Sub(addedAt) < p.ttl {
		return true
	}
	p.dedup.Add(key, p.now())
	return false
}

// dedupKey buckets the verdict timestamp to one second.
func dedupKey(videoID string, v schema.Verdict) string {
	ts := int64(-1)
	if v.Timestamp != nil {
		ts = int64(*v.Timestamp)
	}
	return fmt.Sprintf("%s|%s|%s|%d", videoID, v.RuleDescription, v.Severity, ts)
}

package report

import (
	"math"

	"github.com/technosupport/ts-comply/internal/schema"
)

// AssignPersonThumbnails picks a representative frame image for each person
// summary: the observation nearest to first_seen that actually lists the
// person, falling back to the nearest observation with any image. Summaries
// that already carry a thumbnail are left alone, so re-running is a no-op.
func AssignPersonThumbnails(rep *schema.Report) {
	if len(rep.PersonSummaries) == 0 || len(rep.FrameObservations) == 0 {
		return
	}
	for i := range rep.PersonSummaries {
		ps := &rep.PersonSummaries[i]
		if ps.ThumbnailBase64 != "" {
			continue
		}
		if obs := nearestWithPerson(rep.FrameObservations, ps.PersonID, ps.FirstSeen); obs != nil {
			ps.ThumbnailBase64 = obs.ImageBase64
			continue
		}
		if obs := nearestWithImage(rep.FrameObservations, ps.FirstSeen); obs != nil {
			ps.ThumbnailBase64 = obs.ImageBase64
		}
	}
}

func nearestWithPerson(obs []schema.FrameObservation, personID string, at float64) *schema.FrameObservation {
	var best *schema.FrameObservation
	bestDist := math.Inf(1)
	for i := range obs {
		o := &obs[i]
		if o.ImageBase64 == "" || !listsPerson(o, personID) {
			continue
		}
		if d := math.Abs(o.Timestamp - at); d < bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

func nearestWithImage(obs []schema.FrameObservation, at float64) *schema.FrameObservation {
	var best *schema.FrameObservation
	bestDist := math.Inf(1)
	for i := range obs {
		o := &obs[i]
		if o.ImageBase64 == "" {
			continue
		}
		if d := math.Abs(o.Timestamp - at); d < bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

func listsPerson(o *schema.FrameObservation, personID string) bool {
	for _, p := range o.People {
		if p.PersonID == personID {
			return true
		}
	}
	return false
}

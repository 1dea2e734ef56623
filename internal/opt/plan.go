// Package opt orders garbage points into a collection route.
package opt

import (
	"fmt"
	"math"
	"sort"

	"wasteroute/internal/lifecycle"
	"wasteroute/internal/model"
)

// DefaultFillThreshold is the share of a point's capacity that must be
// waiting in active kiosk orders before the point is worth a visit.
const DefaultFillThreshold = 0.7

const twoOptIterations = 50

// Plan is a generated collection route before it is stored.
type Plan struct {
	Stops          []model.StopInput
	PointIDs       []int64
	// OrderIDs are the kiosk orders whose weight the stops account for.
	OrderIDs       []int64
	DistanceMeters float64
}

type candidate struct {
	load model.PointLoad
	fill float64
}

// PlanCollection keeps the points whose fill ratio reaches threshold and
// orders them: located points by nearest neighbour from the fullest one,
// improved with 2-opt, then points without coordinates by fill.
func PlanCollection(loads []model.PointLoad, threshold float64) (Plan, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFillThreshold
	}
	var cands []candidate
	for _, l := range loads {
		if l.Point.Capacity <= 0 {
			continue
		}
		fill := l.Weight / float64(l.Point.Capacity)
		if fill >= threshold {
			cands = append(cands, candidate{load: l, fill: fill})
		}
	}
	if len(cands) == 0 {
		return Plan{}, fmt.Errorf("%w: no garbage points filled above %.0f%%", lifecycle.ErrInvalid, threshold*100)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].fill != cands[j].fill {
			return cands[i].fill > cands[j].fill
		}
		return cands[i].load.Point.ID < cands[j].load.Point.ID
	})

	var located, rest []candidate
	for _, c := range cands {
		if c.load.Point.Lat != nil && c.load.Point.Lon != nil {
			located = append(located, c)
		} else {
			rest = append(rest, c)
		}
	}
	var plan Plan
	ordered := make([]candidate, 0, len(cands))
	if len(located) > 0 {
		pts := make([]Coord, len(located))
		for i, c := range located {
			pts[i] = Coord{Lat: *c.load.Point.Lat, Lon: *c.load.Point.Lon}
		}
		d := distanceMatrix(pts)
		order := d.twoOpt(d.nearestNeighbour(0), twoOptIterations)
		plan.DistanceMeters = d.length(order)
		for _, i := range order {
			ordered = append(ordered, located[i])
		}
	}
	ordered = append(ordered, rest...)

	for i, c := range ordered {
		seq := i + 1
		id := c.load.Point.ID
		addr := c.load.Point.Address
		expected := int(math.Round(c.load.Weight))
		plan.Stops = append(plan.Stops, model.StopInput{SeqNo: &seq, GarbagePointID: &id, Address: &addr, ExpectedCapacity: &expected})
		plan.PointIDs = append(plan.PointIDs, id)
		plan.OrderIDs = append(plan.OrderIDs, c.load.OrderIDs...)
	}
	return plan, nil
}

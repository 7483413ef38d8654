package dnd

// Zone is the hit-testable region of one node during a drag.
type Zone struct {
	Node  Node    `json:"node"`
	Top   float64 `json:"top"`
	Depth int     `json:"depth"`
}

// Stack holds the zones under the pointer for one pointer tick.
type Stack []Zone

// Shallow returns the zone that claims events: the most deeply nested one.
// Among equal depths the last listed zone is topmost and wins.
func (s Stack) Shallow() (Zone, bool) {
	if len(s) == 0 {
		return Zone{}, false
	}
	best := 0
	for i := 1; i < len(s); i++ {
		if s[i].Depth >= s[best].Depth {
			best = i
		}
	}
	return s[best], true
}

// Gesture is the state of a single drag, from pickup to release. The adjacent
// flag belongs to TargetID only and is dropped whenever the target changes.
type Gesture struct {
	ID       string `json:"id"`
	SpaceID  string `json:"spaceId"`
	Source   Node   `json:"source"`
	TargetID string `json:"targetId,omitempty"`
	Adjacent bool   `json:"adjacent"`
	Dropped  bool   `json:"dropped"`
}

func NewGesture(id, spaceID string, source Node) *Gesture {
	return &Gesture{ID: id, SpaceID: spaceID, Source: source}
}

// HoverTarget handles a hover event delivered to a single zone. Zones that are
// not the shallow hit only clear their own flag.
func (g *Gesture) HoverTarget(target Node, pointerY, targetTop float64, shallow bool) {
	if g.Dropped {
		return
	}
	if !shallow {
		if g.TargetID == target.ID {
			g.TargetID = ""
			g.Adjacent = false
		}
		return
	}
	g.TargetID = target.ID
	g.Adjacent = IsAdjacent(pointerY, targetTop)
}

// Hover evaluates one pointer tick. Ancestor zones are visited first and the
// shallow zone last so it always ends up owning the state.
func (g *Gesture) Hover(zones Stack, pointerY float64) {
	if g.Dropped {
		return
	}
	top, ok := zones.Shallow()
	if !ok {
		g.TargetID = ""
		g.Adjacent = false
		return
	}
	for _, zone := range zones {
		if zone.Node.ID == top.Node.ID {
			continue
		}
		g.HoverTarget(zone.Node, pointerY, zone.Top, false)
	}
	g.HoverTarget(top.Node, pointerY, top.Top, true)
}

// Drop finalizes the gesture. Only the shallow zone classifies; a gesture
// yields at most one intent and later drops are no-ops. The returned error is
// informational: invalid drops still come back as a none intent.
func (g *Gesture) Drop(zones Stack, ancestry Ancestry) (Intent, error) {
	if g.Dropped {
		return None(), nil
	}
	g.Dropped = true

	top, ok := zones.Shallow()
	if !ok {
		g.TargetID = ""
		g.Adjacent = false
		return None(), nil
	}

	adjacent := g.Adjacent && g.TargetID == top.Node.ID
	intent, err := Classify(g.Source, top.Node, adjacent, ancestry)
	g.Adjacent = false
	return intent, err
}

package models

// RoadNode is a junction in the road network.
type RoadNode struct {
	ID       int64    `json:"id"`
	Location GeoPoint `json:"location"`
}

// RoadEdge is a directed road segment. Cost is travel time in minutes for
// the declared direction; ReverseCost, when present, allows backward
// traversal at that cost. A nil ReverseCost marks a one-way segment.
type RoadEdge struct {
	ID          int64      `json:"id"`
	Source      int64      `json:"source"`
	Target      int64      `json:"target"`
	Cost        float64    `json:"cost"`
	ReverseCost *float64   `json:"reverseCost,omitempty"`
	Geometry    []GeoPoint `json:"geometry,omitempty"`
	Surface     string     `json:"surface,omitempty"`
	Modes       []string   `json:"modes,omitempty"`
}

// RouteStep is one ordered segment of a computed route.
type RouteStep struct {
	Seq      int        `json:"seq"`
	EdgeID   int64      `json:"edgeId"`
	Cost     float64    `json:"costMinutes"`
	Geometry []GeoPoint `json:"geometry,omitempty"`
}

// Route is an evacuation path from a sensor to a shelter.
type Route struct {
	SensorID         int64       `json:"sensorId"`
	ShelterID        int64       `json:"shelterId"`
	FromNode         int64       `json:"fromNode"`
	ToNode           int64       `json:"toNode"`
	SnapFromMeters   float64     `json:"snapFromMeters"`
	SnapToMeters     float64     `json:"snapToMeters"`
	Steps            []RouteStep `json:"steps"`
	TotalCostMinutes float64     `json:"totalCostMinutes"`
	EstimatedMinutes float64     `json:"estimatedTimeMinutes"`
	GeoJSON          interface{} `json:"geojson,omitempty"`
}

package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"telemetry-hub/internal/model"
)

// TreeNode is one node of the dashboard snapshot: root, one node per
// sensor, one "latest reading" node, one leaf per numeric field.
type TreeNode struct {
	Label    string     `json:"label"`
	Value    string     `json:"value,omitempty"`
	Unit     string     `json:"unit,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// handleTree rebuilds the snapshot from current sensors and their latest
// readings on every request. It is a pure transform, never cached.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.repo.ListSensors(r.Context())
	if err != nil {
		slog.Error("tree sensor list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not build tree")
		return
	}
	events, err := s.latestEvents(r)
	if err != nil {
		slog.Error("tree latest readings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not build tree")
		return
	}

	latest := make(map[string]model.ReadingEvent, len(events))
	for _, ev := range events {
		latest[ev.SensorID] = ev
	}

	root := TreeNode{Label: "sensors"}
	for _, sensor := range sensors {
		node := TreeNode{Label: sensor.Name}
		if ev, ok := latest[sensor.SensorID]; ok {
			node.Children = append(node.Children, readingNode(ev))
		}
		root.Children = append(root.Children, node)
	}
	writeData(w, http.StatusOK, root)
}

func readingNode(ev model.ReadingEvent) TreeNode {
	fields := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	node := TreeNode{Label: "latest reading"}
	for _, f := range fields {
		node.Children = append(node.Children, TreeNode{
			Label: f,
			Value: fmt.Sprintf("%.1f", ev.Data[f]),
			Unit:  model.UnitFor(f),
		})
	}
	return node
}

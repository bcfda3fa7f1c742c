package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// MessageType classifies a control message parsed from executor output.
type MessageType string

const (
	MsgCrossDomain     MessageType = "CROSS_DOMAIN"
	MsgBlocker         MessageType = "BLOCKER"
	MsgInterfaceChange MessageType = "INTERFACE_CHANGE"
)

// Control tag prefixes scanned for in executor output. Tags appear at
// the start of a line, followed by a target token and an optional
// free-text payload.
const (
	tagCrossDomain     = "CROSS-DOMAIN:"
	tagBlocker         = "BLOCKER:"
	tagInterfaceChange = "INTERFACE-CHANGE:"
)

// ControlMessage is a typed control signal extracted from a completed
// node's free-text output. Ephemeral: consumed within the scheduling
// tick that extracted it.
type ControlMessage struct {
	Type    MessageType
	Target  string // Capability tag (cross-domain) or node ID (blocker, interface change)
	Payload string
	Origin  string // ID of the node whose output carried the tag
}

// Extract parses control messages out of a node's output. It is a pure
// function: unknown or unparseable text yields no messages, never an
// error. Messages are returned in the order they appear.
func Extract(origin, output string) []ControlMessage {
	var msgs []ControlMessage
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		var msgType MessageType
		var rest string
		switch {
		case strings.HasPrefix(line, tagCrossDomain):
			msgType, rest = MsgCrossDomain, line[len(tagCrossDomain):]
		case strings.HasPrefix(line, tagBlocker):
			msgType, rest = MsgBlocker, line[len(tagBlocker):]
		case strings.HasPrefix(line, tagInterfaceChange):
			msgType, rest = MsgInterfaceChange, line[len(tagInterfaceChange):]
		default:
			continue
		}

		target, payload := splitTargetPayload(rest)
		if target == "" {
			continue
		}
		msgs = append(msgs, ControlMessage{
			Type:    msgType,
			Target:  target,
			Payload: payload,
			Origin:  origin,
		})
	}
	return msgs
}

// splitTargetPayload separates the first token (the target) from the
// remaining free text.
func splitTargetPayload(rest string) (string, string) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", ""
	}
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i:])
	}
	return rest, ""
}

// RouteEffect describes what routing a single message did to the graph.
type RouteEffect struct {
	Message    ControlMessage
	CreatedID  string   // Follow-up node injected by a cross-domain message
	BlockedID  string   // Node marked Blocked
	Escalated  string   // Node escalated after exceeding the stall threshold
	Superseded []string // Old node IDs replaced by an interface change
}

// MessageRouter applies control messages to the graph. It is the single
// boundary where unstructured executor text becomes graph mutations; the
// rest of the system only ever sees typed messages. Messages from one
// node are routed in extraction order; the scheduler serializes routing
// across nodes.
type MessageRouter struct {
	graph          *TaskGraph
	stallThreshold int
	newSuffix      func() string // injectable for deterministic tests
}

// NewMessageRouter creates a router over the graph. stallThreshold is
// the number of BLOCKER signals a node may accumulate before it
// escalates; non-positive values default to 3.
func NewMessageRouter(graph *TaskGraph, stallThreshold int) *MessageRouter {
	if stallThreshold <= 0 {
		stallThreshold = 3
	}
	return &MessageRouter{
		graph:          graph,
		stallThreshold: stallThreshold,
		newSuffix:      func() string { return uuid.NewString()[:8] },
	}
}

// Route dispatches a single control message to its handler.
func (r *MessageRouter) Route(msg ControlMessage) (RouteEffect, error) {
	switch msg.Type {
	case MsgCrossDomain:
		return r.routeCrossDomain(msg)
	case MsgBlocker:
		return r.routeBlocker(msg)
	case MsgInterfaceChange:
		return r.routeInterfaceChange(msg)
	}
	return RouteEffect{Message: msg}, fmt.Errorf("unknown message type %q", msg.Type)
}

// routeCrossDomain injects a follow-up node for the named capability.
// The node runs independently (no dependencies) unless the payload
// declares them with after=<id> tokens, so it never blocks the
// originating node's successors.
func (r *MessageRouter) routeCrossDomain(msg ControlMessage) (RouteEffect, error) {
	effect := RouteEffect{Message: msg}

	var dependsOn []string
	for _, field := range strings.Fields(msg.Payload) {
		if depID, ok := strings.CutPrefix(field, "after="); ok {
			dependsOn = append(dependsOn, depID)
		}
	}

	node := &TaskNode{
		ID:        fmt.Sprintf("%s-%s", msg.Target, r.newSuffix()),
		Kind:      msg.Target,
		Payload:   msg.Payload,
		DependsOn: dependsOn,
	}
	if err := r.graph.AddNode(node); err != nil {
		return effect, fmt.Errorf("injecting cross-domain node for %q: %w", msg.Target, err)
	}
	effect.CreatedID = node.ID
	return effect, nil
}

// routeBlocker marks the target node Blocked and counts the stall.
// Exceeding the stall threshold escalates the node instead of holding it
// forever.
func (r *MessageRouter) routeBlocker(msg ControlMessage) (RouteEffect, error) {
	effect := RouteEffect{Message: msg}

	node, exists := r.graph.Get(msg.Target)
	if !exists {
		return effect, &NotFoundError{ID: msg.Target}
	}
	if node.State != StateBlocked {
		if err := r.graph.MarkBlocked(msg.Target, msg.Payload); err != nil {
			return effect, err
		}
	}
	effect.BlockedID = msg.Target

	stalls, err := r.graph.RecordStall(msg.Target)
	if err != nil {
		return effect, err
	}
	if stalls > r.stallThreshold {
		reason := fmt.Sprintf("stalled %d times, threshold %d", stalls, r.stallThreshold)
		if err := r.graph.MarkEscalated(msg.Target, reason); err != nil {
			return effect, err
		}
		effect.Escalated = msg.Target
	}
	return effect, nil
}

// routeInterfaceChange supersedes every node that depends on the changed
// node, forcing dependents back through the scheduler against the new
// contract. Pending dependents have not run yet and are left alone;
// terminal dependents that can no longer re-run are skipped. Dependents
// are processed in ID order for determinism.
func (r *MessageRouter) routeInterfaceChange(msg ControlMessage) (RouteEffect, error) {
	effect := RouteEffect{Message: msg}

	if _, exists := r.graph.Get(msg.Target); !exists {
		return effect, &NotFoundError{ID: msg.Target}
	}

	dependents := r.graph.Dependents(msg.Target)
	sort.Strings(dependents)

	for _, depID := range dependents {
		dep, exists := r.graph.Get(depID)
		if !exists {
			continue
		}
		switch dep.State {
		case StatePending:
			// Not yet run; it will pick up the new contract on dispatch.
			continue
		case StateEscalated, StateAborted, StateSuperseded:
			continue
		}

		replacement := dep.Clone()
		replacement.ID = fmt.Sprintf("%s-r%s", dep.ID, r.newSuffix())
		replacement.Attempt = 0
		replacement.StallCount = 0
		replacement.Result = nil
		replacement.BlockReason = ""
		replacement.SupersededBy = ""

		if err := r.graph.Supersede(dep.ID, replacement); err != nil {
			return effect, fmt.Errorf("superseding %q after interface change: %w", dep.ID, err)
		}
		effect.Superseded = append(effect.Superseded, dep.ID)
	}
	return effect, nil
}

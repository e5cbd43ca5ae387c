// Package signaling validates and relays call-lifecycle events between two
// registered identities. The router keeps no call state: every signal is
// resolved against the registry at relay time and either forwarded verbatim
// or answered with an explicit failure event to the sender. Whether an answer
// "makes sense" for the current call is the clients' concern, not the
// server's.
package signaling

import (
	"log"

	"github.com/mossy-p/call-relay/internal/models"
	"github.com/mossy-p/call-relay/internal/redis"
	"github.com/mossy-p/call-relay/internal/registry"
)

// relayed maps an inbound call event to the event name delivered to the
// target.
var relayed = map[models.EventType]models.EventType{
	models.EventInitiate:     models.EventIncoming,
	models.EventAnswer:       models.EventAccepted,
	models.EventReject:       models.EventRejected,
	models.EventEnd:          models.EventEnded,
	models.EventICECandidate: models.EventICECandidate,
}

// payloadOptional lists relayed events that may omit a payload.
var payloadOptional = map[models.EventType]bool{
	models.EventReject: true,
	models.EventEnd:    true,
}

// Router dispatches inbound signaling messages for one process.
type Router struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// Route handles one inbound message from the channel registered as sender.
// The sender's claimed "from" field is always overwritten with its
// authenticated identity.
func (r *Router) Route(sender registry.ConnectedUser, msg models.Message) {
	msg.From = sender.Identity

	switch msg.Event {
	case models.EventInitiate, models.EventAnswer, models.EventReject,
		models.EventEnd, models.EventICECandidate:
		r.relay(sender, msg)
	case models.EventCheckUser:
		r.checkUser(sender, msg)
	case models.EventReconnect:
		r.reconnect(sender, msg)
	default:
		r.signalError(sender, "unknown event: "+string(msg.Event))
	}
}

// relay forwards a call event to its target or reports why it could not.
func (r *Router) relay(sender registry.ConnectedUser, msg models.Message) {
	if msg.To == "" {
		r.signalError(sender, "missing required field: toIdentity")
		return
	}
	if len(msg.Payload) == 0 && !payloadOptional[msg.Event] {
		r.signalError(sender, "missing required field: payload")
		return
	}
	if msg.Event == models.EventInitiate &&
		msg.CallKind != models.CallKindAudio && msg.CallKind != models.CallKindVideo {
		r.signalError(sender, "callKind must be audio or video")
		return
	}

	target, ok := r.reg.Lookup(msg.To)
	if !ok {
		r.userUnavailable(sender, msg.To, "user is not connected")
		return
	}

	out := models.Message{
		Event:   relayed[msg.Event],
		From:    sender.Identity,
		To:      msg.To,
		Payload: msg.Payload,
	}
	if msg.Event == models.EventInitiate {
		out.CallKind = msg.CallKind
		out.CallerName = sender.DisplayName
	}

	if err := target.Channel.Send(string(out.Event), out); err != nil {
		r.evictUnreachable(target, err)
		r.userUnavailable(sender, msg.To, "user connection lost")
		return
	}

	// Successful traffic counts as liveness for both ends.
	r.reg.Touch(sender.Identity)
	r.reg.Touch(msg.To)

	if msg.Event == models.EventInitiate {
		// Tell the caller delivery happened, so its UI can distinguish
		// "sent" from "ringing on the other side".
		r.send(sender, models.Message{
			Event: models.EventRinging,
			To:    msg.To,
		})
	}
}

// checkUser answers an availability probe without ringing anyone.
func (r *Router) checkUser(sender registry.ConnectedUser, msg models.Message) {
	if msg.Target == "" {
		r.signalError(sender, "missing required field: targetIdentity")
		return
	}
	if _, ok := r.reg.Lookup(msg.Target); !ok {
		r.userUnavailable(sender, msg.Target, "user is not connected")
		return
	}
	r.send(sender, models.Message{
		Event:    models.EventUserAvailable,
		Identity: msg.Target,
	})
	r.reg.Touch(sender.Identity)
}

// reconnect re-validates both identities of a dropped call and hints both
// peer-connection layers to attempt an ICE restart. No payload is relayed and
// no call-specific memory is consulted.
func (r *Router) reconnect(sender registry.ConnectedUser, msg models.Message) {
	if msg.To == "" {
		r.signalError(sender, "missing required field: toIdentity")
		return
	}

	target, ok := r.reg.Lookup(msg.To)
	if !ok {
		r.userUnavailable(sender, msg.To, "user is not connected")
		return
	}

	hint := models.Message{Event: models.EventRecovered}
	if err := target.Channel.Send(string(models.EventRecovered), hint); err != nil {
		r.evictUnreachable(target, err)
		r.userUnavailable(sender, msg.To, "user connection lost")
		return
	}
	r.send(sender, hint)

	r.reg.Touch(sender.Identity)
	r.reg.Touch(msg.To)
}

// evictUnreachable handles a target that looked registered but whose channel
// refused the write: deregister (guarded, in case a newer channel took over),
// close, and tell everyone else the user went offline. The send is never
// retried.
func (r *Router) evictUnreachable(target registry.ConnectedUser, sendErr error) {
	log.Printf("Send to %s failed, evicting: %v", target.Identity, sendErr)
	if !r.reg.Deregister(target.Identity, target.Channel.ID()) {
		return
	}
	if err := target.Channel.Close(); err != nil {
		log.Printf("Failed to close dead channel for %s: %v", target.Identity, err)
	}
	if err := redis.MarkOffline(target.Identity); err != nil {
		log.Printf("Failed to mirror %s offline to Redis: %v", target.Identity, err)
	}
	r.reg.Broadcast(string(models.EventPresenceOffline), models.Message{
		Event:    models.EventPresenceOffline,
		Identity: target.Identity,
		Reason:   "connection lost",
	}, target.Identity)
}

func (r *Router) userUnavailable(sender registry.ConnectedUser, identity, reason string) {
	r.send(sender, models.Message{
		Event:    models.EventUserUnavailable,
		Identity: identity,
		Reason:   reason,
	})
}

func (r *Router) signalError(sender registry.ConnectedUser, reason string) {
	log.Printf("Rejecting malformed signal from %s: %s", sender.Identity, reason)
	r.send(sender, models.Message{
		Event:  models.EventSignalError,
		Reason: reason,
	})
}

func (r *Router) send(user registry.ConnectedUser, msg models.Message) {
	if err := user.Channel.Send(string(msg.Event), msg); err != nil {
		log.Printf("Send %s to %s failed: %v", msg.Event, user.Identity, err)
	}
}

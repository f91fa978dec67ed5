package gateway

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/scenerelay/internal/game/character"
	"github.com/cory-johannsen/scenerelay/internal/game/scene"
	"github.com/cory-johannsen/scenerelay/internal/game/session"
	"github.com/cory-johannsen/scenerelay/internal/observability"
	"github.com/cory-johannsen/scenerelay/internal/protocol"
)

// Rejection messages sent in failed payloads.
const (
	MsgInvalidCredentials = "Invalid credentials"
	MsgInvalidScene       = "Invalid scene"
	MsgServerFull         = "Server is full"
)

// handleConnect validates a handshake and admits the player.
//
// Postcondition: On success the player occupies exactly one scene, has a
// session, has received init, and the scene has received player:joined.
// On failure the peer has received failed and been closed.
func (s *Service) handleConnect(ev event) {
	peer := ev.peer
	log := observability.ForConnection(s.logger, peer.ID(), peer.RemoteAddr())

	if _, dup := s.sessions.Get(peer.ID()); dup {
		log.Warn("duplicate connect ignored")
		return
	}

	username := Sanitize(ev.handshake.Username)
	if username == "" {
		s.reject(peer, log, MsgInvalidCredentials)
		return
	}

	target := s.registry.Default()
	if key := Sanitize(ev.handshake.SceneKey); key != "" {
		sc, ok := s.registry.Get(key)
		if !ok {
			s.reject(peer, log, MsgInvalidScene)
			return
		}
		target = sc
	}

	if s.sessions.Count()+1 > s.cfg.MaxConnections {
		s.reject(peer, log, MsgServerFull)
		return
	}

	player := character.NewPlayer(peer.ID(), username, ParseModelID(ev.handshake), target.Key)
	if _, err := s.registry.Move(player, target.Key); err != nil {
		log.Error("placing player", zap.Error(err))
		s.reject(peer, log, MsgInvalidScene)
		return
	}
	sess := session.NewSession(peer, player, s.cfg.UpdateInterval, ev.at)
	if err := s.sessions.Add(sess); err != nil {
		target.RemovePlayer(player.ConnectionID)
		log.Error("registering session", zap.Error(err))
		peer.Close()
		return
	}

	s.sendTo(sess, protocol.EventInit, protocol.InitFrom(player.ConnectionID, target.Key, s.registry))
	s.broadcastToScene(target, "", protocol.EventPlayerJoined, protocol.PlayerInfoFrom(player, false))

	log.Info("player connected",
		zap.String("username", username),
		zap.Int("model_id", player.ModelID),
		zap.String("scene", target.Key),
		zap.Int("connections", s.sessions.Count()),
	)
}

func (s *Service) reject(peer session.Peer, log *zap.Logger, reason string) {
	frame, err := protocol.Encode(protocol.EventFailed, protocol.Failed{Message: reason})
	if err == nil {
		_ = peer.Push(frame)
	}
	peer.Close()
	log.Info("connection rejected", zap.String("reason", reason))
}

// handleDisconnect removes the session and notifies its scene. Unknown ids
// are ignored.
func (s *Service) handleDisconnect(connID, reason string) {
	sess, ok := s.sessions.Remove(connID)
	if !ok {
		return
	}
	sess.Peer.Close()

	sceneKey := ""
	if sc, ok := s.registry.Locate(sess.Player); ok {
		sc.RemovePlayer(connID)
		sceneKey = sc.Key
		s.broadcastToScene(sc, "", protocol.EventPlayerLeft, protocol.PlayerLeft{ID: connID})
	}

	s.logger.Info("player disconnected",
		zap.String("conn_id", connID),
		zap.String("username", sess.Player.Username),
		zap.String("scene", sceneKey),
		zap.String("reason", reason),
		zap.Duration("session", s.now().Sub(sess.ConnectedAt)),
	)
}

func (s *Service) handleMessage(ev event) {
	sess, ok := s.sessions.Get(ev.peer.ID())
	if !ok {
		return
	}
	env, err := protocol.Decode(ev.frame)
	if err != nil {
		s.logger.Debug("dropping malformed frame", zap.String("conn_id", sess.ID()), zap.Error(err))
		return
	}

	switch env.Event {
	case protocol.EventJoinScene:
		s.handleJoinScene(sess, env)
	case protocol.EventClientUpdatePlayer:
		s.handlePlayerUpdate(sess, env, ev)
	case protocol.EventSendMessage:
		s.handleSendMessage(sess, env)
	case protocol.EventTriggerEmote:
		s.handleTriggerEmote(sess, env)
	case protocol.EventFart:
		s.handleFart(sess)
	default:
		s.logger.Debug("dropping unknown event",
			zap.String("conn_id", sess.ID()),
			zap.String("event", env.Event),
		)
	}
}

// handleJoinScene moves the player to another scene.
//
// Postcondition: The player occupies exactly one scene. An unknown key
// leaves all state unchanged; the current key re-sends scene-state only.
func (s *Service) handleJoinScene(sess *session.Session, env protocol.Envelope) {
	var req protocol.JoinScene
	if err := env.DecodeData(&req); err != nil {
		s.dropMalformed(sess, env, err)
		return
	}
	key := Sanitize(req.SceneKey)
	target, ok := s.registry.Get(key)
	if key == "" || !ok {
		s.sendTo(sess, protocol.EventFailed, protocol.Failed{Message: MsgInvalidScene})
		return
	}

	p := sess.Player
	if p.SceneKey == key {
		s.sendTo(sess, protocol.EventSceneState, protocol.SceneStateFrom(target.StateFor(p.ConnectionID)))
		return
	}

	from, err := s.registry.Move(p, key)
	if err != nil {
		s.logger.Error("moving player", zap.String("conn_id", sess.ID()), zap.Error(err))
		return
	}
	if from != nil {
		left := protocol.PlayerLeft{ID: p.ConnectionID}
		s.broadcastToScene(from, "", protocol.EventPlayerLeft, left)
		s.sendTo(sess, protocol.EventPlayerLeft, left)
	}

	p.ResetTransform()

	s.broadcastToScene(target, "", protocol.EventPlayerJoined, protocol.PlayerInfoFrom(p, true))
	for _, member := range target.Players() {
		if ms, ok := s.sessions.Get(member.ConnectionID); ok {
			s.sendTo(ms, protocol.EventSceneState, protocol.SceneStateFrom(target.StateFor(member.ConnectionID)))
		}
	}

	fromKey := ""
	if from != nil {
		fromKey = from.Key
	}
	s.logger.Info("player changed scene",
		zap.String("conn_id", sess.ID()),
		zap.String("from", fromKey),
		zap.String("to", key),
	)
}

// handlePlayerUpdate records the reported transform and relays the original
// payload to the rest of the sender's scene. Throttled updates are recorded
// but not relayed.
func (s *Service) handlePlayerUpdate(sess *session.Session, env protocol.Envelope, ev event) {
	var u protocol.ClientUpdatePlayer
	if err := env.DecodeData(&u); err != nil {
		s.dropMalformed(sess, env, err)
		return
	}
	if err := u.Validate(); err != nil {
		s.dropMalformed(sess, env, err)
		return
	}
	if err := sess.Player.SetTransform(u.SpawnPosition.Mgl(), u.SpawnRotation.Mgl()); err != nil {
		s.dropMalformed(sess, env, err)
		return
	}
	// Only updates that would be relayed spend the throttle.
	if !sess.AllowUpdate(ev.at) {
		return
	}
	sc, ok := s.registry.Locate(sess.Player)
	if !ok {
		return
	}
	s.broadcastRawToScene(sc, sess.ID(), protocol.EventClientUpdatePlayer, env.Data)
}

func (s *Service) handleSendMessage(sess *session.Session, env protocol.Envelope) {
	var req protocol.SendMessageRequest
	if err := env.DecodeData(&req); err != nil {
		s.dropMalformed(sess, env, err)
		return
	}
	receiverID := strings.TrimSpace(req.ReceiverUserID)
	msg := Sanitize(req.Message)
	if receiverID == "" || msg == "" {
		return
	}
	receiver, ok := s.sessions.Get(receiverID)
	if !ok {
		return
	}
	s.sendTo(receiver, protocol.EventSendMessage, protocol.SendMessageDelivery{
		SenderUserID: sess.ID(),
		Message:      msg,
	})
}

func (s *Service) handleTriggerEmote(sess *session.Session, env protocol.Envelope) {
	var req protocol.TriggerEmote
	if err := env.DecodeData(&req); err != nil {
		s.dropMalformed(sess, env, err)
		return
	}
	if !protocol.IsEmote(req.AnimationName) {
		s.logger.Debug("dropping unknown emote",
			zap.String("conn_id", sess.ID()),
			zap.String("animation", req.AnimationName),
		)
		return
	}
	sc, ok := s.registry.Locate(sess.Player)
	if !ok {
		return
	}
	s.broadcastToScene(sc, sess.ID(), protocol.EventTriggerEmote, protocol.TriggerEmote{
		SceneKey:      sc.Key,
		AnimationName: req.AnimationName,
		AvatarUserID:  sess.ID(),
	})
}

func (s *Service) handleFart(sess *session.Session) {
	sc, ok := s.registry.Locate(sess.Player)
	if !ok {
		return
	}
	s.broadcastToScene(sc, sess.ID(), protocol.EventFart, protocol.Fart{
		SceneKey: sc.Key,
		UserID:   sess.ID(),
	})
}

func (s *Service) dropMalformed(sess *session.Session, env protocol.Envelope, err error) {
	s.logger.Debug("dropping malformed payload",
		zap.String("conn_id", sess.ID()),
		zap.String("event", env.Event),
		zap.Error(err),
	)
}

// sendTo pushes one event to a single session.
func (s *Service) sendTo(sess *session.Session, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		s.logger.Error("encoding event", zap.String("event", event), zap.Error(err))
		return
	}
	s.push(sess, frame)
}

// broadcastToScene pushes one event to every player in sc except excludeID.
// The payload is encoded once.
func (s *Service) broadcastToScene(sc *scene.Scene, excludeID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	s.broadcastRawToScene(sc, excludeID, event, data)
}

func (s *Service) broadcastRawToScene(sc *scene.Scene, excludeID, event string, data json.RawMessage) {
	frame, err := protocol.EncodeRaw(event, data)
	if err != nil {
		s.logger.Error("framing broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	for _, id := range sc.PlayerIDs() {
		if id == excludeID {
			continue
		}
		if sess, ok := s.sessions.Get(id); ok {
			s.push(sess, frame)
		}
	}
}

func (s *Service) push(sess *session.Session, frame []byte) {
	if err := sess.Peer.Push(frame); err != nil {
		s.logger.Warn("push to connection failed",
			zap.String("conn_id", sess.ID()),
			zap.Error(err),
		)
		s.evict = append(s.evict, sess.ID())
	}
}

package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dscbridge/dsc2ws/internal/config"
	"github.com/dscbridge/dsc2ws/internal/itv2"
	"github.com/dscbridge/dsc2ws/internal/log"
	"github.com/dscbridge/dsc2ws/internal/panel"
)

// Server accepts panel-link connections and binds each to an ITv2 session.
type Server struct {
	cfg      *config.Config
	persist  *config.Persist
	log      *log.Logger
	registry *itv2.SessionRegistry
	store    *panel.Store
	disp     *panel.Dispatcher

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(cfg *config.Config, persist *config.Persist, registry *itv2.SessionRegistry, store *panel.Store, disp *panel.Dispatcher, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		persist:  persist,
		log:      logger,
		registry: registry,
		store:    store,
		disp:     disp,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for panels and returns immediately.
func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if tl, ok, err := s.persist.TLink(); err == nil && ok && tl.Port != 0 {
		port = tl.Port
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %v", port, err)
	}
	s.listener = listener
	s.log.Info("Panel link listening on %s", listener.Addr())

	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every live session.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.registry.Shutdown()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.log.Error("Accept error: %v", err)
				continue
			}
		}
		s.log.Debug("Panel connection from %s", conn.RemoteAddr())
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	// Credentials come from the persist store so edits apply to the next
	// connection without a restart.
	if err := s.persist.Reload(); err != nil {
		s.log.Warn("Failed to reload persisted settings: %v", err)
	}
	tl, ok, err := s.persist.TLink()
	if err != nil || !ok {
		s.log.Error("Panel link not configured; rejecting %s", conn.RemoteAddr())
		conn.Close()
		return
	}

	sess := itv2.NewSession(conn, itv2.SessionConfig{
		Logger:            s.log,
		IntegrationID:     tl.IntegrationID,
		Type1AccessCode:   tl.Type1AccessCode,
		Type2AccessCode:   tl.Type2AccessCode,
		HeartbeatInterval: time.Duration(s.cfg.Server.HeartbeatInterval) * time.Second,
		ResponseTimeout:   time.Duration(s.cfg.Server.ResponseTimeout) * time.Second,
		FlushQuiet:        time.Duration(s.cfg.Server.FlushQuiet) * time.Second,
		OnConnected:       s.onConnected,
		OnMessage:         s.onMessage,
		OnClosed:          s.onClosed,
	})

	if err := sess.Run(); err != nil {
		s.log.Debug("Session ended: %v", err)
	}
}

func (s *Server) onConnected(sess *itv2.Session) {
	if !s.registry.Register(sess) {
		sess.Shutdown()
		return
	}
	s.store.EnsureSession(sess.ID())
	s.store.UpdateSession(sess.ID(), func(state *panel.SessionState) {
		if state.Name == "" {
			state.Name = sess.ID()
		}
	})
}

func (s *Server) onMessage(sess *itv2.Session, m itv2.Message) {
	if _, closing := m.(*itv2.CloseSession); closing {
		s.log.Info("Panel %s requested close", sess.ID())
		go sess.Shutdown()
		return
	}
	s.disp.Dispatch(sess.ID(), m)
}

// Arm sends a PartitionArm command to the named session. It implements
// the facade's PanelControl.
func (s *Server) Arm(ctx context.Context, sessionID string, partition uint8, mode itv2.ArmMode, code string) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	_, err = sess.SendMessage(ctx, &itv2.PartitionArm{
		Partition:  partition,
		ArmMode:    mode,
		AccessCode: code,
	})
	return err
}

func (s *Server) onClosed(sess *itv2.Session) {
	if sess.ID() != "" {
		s.registry.Deregister(sess)
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_calibration/internal/sensor"
	"github.com/relabs-tech/motion_calibration/internal/stage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the operator UI is served from the device itself
	},
}

// WSMessage is an operator command.
type WSMessage struct {
	Action string `json:"action"` // select, start, stop, accept, reject, redo, advance, cancel, status
	Sensor string `json:"sensor,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Axis   bool   `json:"axis,omitempty"`
}

// WSResponse is pushed to the operator.
type WSResponse struct {
	Type      string           `json:"type"` // session, status, candidate, complete, error
	Session   string           `json:"session,omitempty"`
	Status    *stage.Status    `json:"status,omitempty"`
	Candidate *stage.Candidate `json:"candidate,omitempty"`
	Results   *ResultEnvelope  `json:"results,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// CalibrationSession is one operator connection driving the controller.
type CalibrationSession struct {
	ID   string
	Conn *websocket.Conn

	svc        *Service
	mu         sync.Mutex // serializes writes to Conn
	lastStatus []byte
	lastState  stage.State
}

// HandleCalibrationWS upgrades the request and runs the session until the
// operator disconnects.
func (s *Service) HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := &CalibrationSession{ID: uuid.NewString(), Conn: conn, svc: s}
	if err := s.claim(session.ID); err != nil {
		session.sendError(err.Error())
		return
	}
	defer s.release(session.ID)
	log.Infof("calibration: session %s opened from %s", session.ID, r.RemoteAddr)
	session.send(WSResponse{Type: "session", Session: session.ID})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go session.tick(ctx, time.Duration(s.cfg.UpdateInterval)*time.Millisecond)

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Infof("calibration: session %s closed: %v", session.ID, err)
			return
		}
		if err := session.handle(msg); err != nil {
			session.sendError(err.Error())
		}
	}
}

func (c *CalibrationSession) handle(msg WSMessage) error {
	ctrl := c.svc.ctrl
	switch msg.Action {
	case "select":
		kind, err := sensor.ParseKind(msg.Sensor)
		if err != nil {
			return err
		}
		mode := stage.ValueMode
		if msg.Mode != "" {
			if mode, err = stage.ParseMode(msg.Mode); err != nil {
				return err
			}
		}
		if err := ctrl.SelectSensor(kind, mode, msg.Axis); err != nil {
			return err
		}

	case "start":
		if err := ctrl.StartRecording(); err != nil {
			return err
		}

	case "stop":
		cand, err := ctrl.StopRecording()
		if err != nil {
			return err
		}
		c.send(WSResponse{Type: "candidate", Candidate: cand})

	case "accept":
		if err := ctrl.Accept(); err != nil {
			return err
		}

	case "reject":
		if err := ctrl.Reject(); err != nil {
			return err
		}

	case "redo":
		if err := ctrl.Redo(); err != nil {
			return err
		}

	case "advance":
		if err := ctrl.AdvanceToNextStage(); err != nil {
			return err
		}

	case "cancel":
		ctrl.Reset()
		log.Infof("calibration: session %s cancelled", c.ID)

	case "status":
		c.mu.Lock()
		c.lastStatus = nil
		c.mu.Unlock()

	default:
		log.Warnf("calibration: unknown action %q", msg.Action)
		return nil
	}
	c.pushStatus(ctrl.Update())
	return nil
}

// tick drives the controller and pushes the status whenever it changes.
func (c *CalibrationSession) tick(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pushStatus(c.svc.ctrl.Update())
		}
	}
}

func (c *CalibrationSession) pushStatus(st stage.Status) {
	data, err := json.Marshal(st)
	if err != nil {
		log.Errorf("calibration: marshal status: %v", err)
		return
	}
	c.mu.Lock()
	changed := !bytes.Equal(data, c.lastStatus)
	entered := st.State == stage.Complete && c.lastState != stage.Complete
	c.lastStatus = data
	c.lastState = st.State
	c.mu.Unlock()

	if changed {
		c.send(WSResponse{Type: "status", Status: &st})
	}
	if entered {
		kind, err := sensor.ParseKind(st.Sensor)
		if err != nil {
			return
		}
		res := c.svc.Result(kind)
		c.send(WSResponse{Type: "complete", Results: &res})
	}
}

func (c *CalibrationSession) send(resp WSResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Conn.WriteJSON(resp); err != nil {
		log.Debugf("calibration: websocket write error: %v", err)
	}
}

func (c *CalibrationSession) sendError(message string) {
	c.send(WSResponse{Type: "error", Message: message})
}

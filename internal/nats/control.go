/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package nats

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

// Controller is the part of the module remote control drives
type Controller interface {
	Init(opts voicestream.Options) error
	Start() error
	Stop() error
}

// ControlSubscriber applies control messages to a module
type ControlSubscriber struct {
	conn       Connection
	streamID   string
	controller Controller

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewControlSubscriber creates a subscriber for streamID
func NewControlSubscriber(conn Connection, streamID string, controller Controller) *ControlSubscriber {
	return &ControlSubscriber{conn: conn, streamID: streamID, controller: controller}
}

// Start subscribes to the stream and broadcast control subjects
func (c *ControlSubscriber) Start() error {
	subjects := []string{ControlSubject(c.streamID), BroadcastControlSubject}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, subject := range subjects {
		sub, err := c.conn.Subscribe(subject, c.handleControlMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}

	log.Info("🎧 subscribed to control subjects", "subjects", subjects)
	return nil
}

// Close drops the subscriptions
func (c *ControlSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug("unsubscribe failed", logging.Err(err))
		}
	}
	c.subs = nil
}

func (c *ControlSubscriber) handleControlMessage(msg *nats.Msg) {
	var ctrl ControlMessage
	if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
		log.Error("❌ failed to unmarshal control message", "subject", msg.Subject, logging.Err(err))
		c.reply(msg, ControlReply{Message: fmt.Sprintf("invalid control message: %v", err)})
		return
	}

	log.Info("📥 control message", "subject", msg.Subject, "action", ctrl.Action)

	var err error
	switch ctrl.Action {
	case ActionInit:
		var opts voicestream.Options
		if ctrl.Options != nil {
			opts = *ctrl.Options
		}
		err = c.controller.Init(opts)
	case ActionStart:
		err = c.controller.Start()
	case ActionStop:
		err = c.controller.Stop()
	default:
		log.Warn("⚠️ unknown control action", "action", ctrl.Action)
		c.reply(msg, ControlReply{Message: fmt.Sprintf("unknown action %q", ctrl.Action)})
		return
	}

	if err != nil {
		log.Warn("⚠️ control action failed", "action", ctrl.Action, logging.Err(err))
		c.reply(msg, ControlReply{Code: string(voicestream.CodeOf(err)), Message: err.Error()})
		return
	}
	c.reply(msg, ControlReply{OK: true})
}

func (c *ControlSubscriber) reply(msg *nats.Msg, r ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.conn.Publish(msg.Reply, data); err != nil {
		log.Warn("⚠️ failed to send control reply", logging.Err(err))
	}
}

// Copyright © by Akaere Networks 2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package sshd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/akaere-networks/whois-server/color"
	"github.com/akaere-networks/whois-server/config"
	"github.com/akaere-networks/whois-server/query"
	"github.com/akaere-networks/whois-server/storage"
)

// Handler answers one analyzed query; the processor satisfies it.
type Handler interface {
	Process(ctx context.Context, qt query.Type, scheme color.Scheme) string
}

// Server is the SSH front-end: anyone may log in as the whois user and
// issue queries through an interactive line editor.
type Server struct {
	cfg     *config.Config
	handler Handler
	history *historyStore
	signer  ssh.Signer
	log     *slog.Logger
}

// New prepares the front-end, loading or creating the host key.
func New(cfg *config.Config, handler Handler, store *storage.Store, logger *slog.Logger) (*Server, error) {
	signer, err := loadOrCreateHostKey(config.SSHHostKeyPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		history: &historyStore{store: store},
		signer:  signer,
		log:     logger.With("name", "sshd"),
	}, nil
}

// serverConfig accepts the whois user with any password or key.
func (s *Server) serverConfig() *ssh.ServerConfig {
	conf := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, _ []byte) (*ssh.Permissions, error) {
			if meta.User() != "whois" {
				return nil, fmt.Errorf("unknown user %q", meta.User())
			}
			return nil, nil
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, _ ssh.PublicKey) (*ssh.Permissions, error) {
			if meta.User() != "whois" {
				return nil, fmt.Errorf("unknown user %q", meta.User())
			}
			return nil, nil
		},
	}
	conf.AddHostKey(s.signer)
	return conf
}

// ListenAndServe accepts SSH connections until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.SSHPort))

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind the SSH listener on %s: %v", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("ssh front-end listening", "addr", addr)
	conf := s.serverConfig()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("ssh accept failed", "err", err)
			continue
		}
		go s.handleConn(ctx, conn, conf)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, conf *ssh.ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, conf)
	if err != nil {
		s.log.Debug("ssh handshake failed", "peer", conn.RemoteAddr(), "err", err)
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	peerIP, _, _ := net.SplitHostPort(sshConn.RemoteAddr().String())

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			s.log.Warn("failed to accept a session channel", "err", err)
			continue
		}

		go func(in <-chan *ssh.Request) {
			for req := range in {
				switch req.Type {
				case "shell", "pty-req", "window-change", "env":
					if req.WantReply {
						_ = req.Reply(true, nil)
					}
				default:
					if req.WantReply {
						_ = req.Reply(false, nil)
					}
				}
			}
		}(requests)

		sess := &session{
			channel: channel,
			handler: s.handler,
			history: s.history,
			ip:      peerIP,
			user:    sshConn.User(),
			log:     s.log,
		}
		go sess.run(ctx)
	}
}

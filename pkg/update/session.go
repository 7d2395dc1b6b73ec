// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package update implements the device side of the Ember update protocol:
// the per-frame session state machine and the outer command loop that
// starts sessions and boots the installed image.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/frame"
	"github.com/Thermoquad/ember/pkg/governor"
	"github.com/Thermoquad/ember/pkg/metadata"
)

// Session phases
const (
	PhaseMetadata = "await_metadata"
	PhaseFirmware = "write_firmware"
	PhaseMessage  = "write_release_message"
	PhaseEnd      = "await_end"
	PhaseDone     = "done"
	PhaseAborted  = "aborted"
)

// Session events
const (
	eventStartAccepted  = "start_accepted"
	eventFirmwareStored = "firmware_stored"
	eventMessageStored  = "message_stored"
	eventEndAccepted    = "end_accepted"
	eventAbort          = "abort"
)

// Session receives one firmware update. Every frame read from the transport
// is answered with exactly one acknowledgement.
type Session struct {
	cfg   Config
	rw    io.ReadWriter
	codec *frame.Codec
	store *metadata.Store
	log   *slog.Logger

	fsm    *fsm.FSM
	gov    *governor.Governor
	writer *flash.Writer
	stats  *Statistics

	start   frame.Start
	version uint16 // version to commit, debug version resolved
	written int    // bytes of the current stream
}

// NewSession creates a session reading frames from rw and writing the
// image through drv
func NewSession(rw io.ReadWriter, codec *frame.Codec, drv flash.Driver, opts ...Option) (*Session, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return newSession(rw, codec, drv, cfg)
}

func newSession(rw io.ReadWriter, codec *frame.Codec, drv flash.Driver, cfg Config) (*Session, error) {
	w, err := flash.NewWriter(drv, cfg.Layout.FirmwareBase, cfg.Layout.PageSize)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		rw:     rw,
		codec:  codec,
		store:  metadata.NewStore(drv, cfg.Layout.MetadataBase, cfg.Layout.PageSize),
		log:    cfg.Logger,
		gov:    governor.New(cfg.Threshold),
		writer: w,
		stats:  NewStatistics(),
	}

	s.fsm = fsm.NewFSM(
		PhaseMetadata,
		fsm.Events{
			{Name: eventStartAccepted, Src: []string{PhaseMetadata}, Dst: PhaseFirmware},
			{Name: eventFirmwareStored, Src: []string{PhaseFirmware}, Dst: PhaseMessage},
			{Name: eventMessageStored, Src: []string{PhaseMessage}, Dst: PhaseEnd},
			{Name: eventEndAccepted, Src: []string{PhaseEnd}, Dst: PhaseDone},
			{Name: eventAbort, Src: []string{PhaseMetadata, PhaseFirmware, PhaseMessage, PhaseEnd}, Dst: PhaseAborted},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) { s.enterPhase(e) },
		},
	)

	return s, nil
}

// Phase returns the current protocol phase
func (s *Session) Phase() string {
	return s.fsm.Current()
}

// Statistics returns the session's frame counters
func (s *Session) Statistics() *Statistics {
	return s.stats
}

// Start returns the accepted start frame fields
func (s *Session) Start() frame.Start {
	return s.start
}

// Run processes frames until the end frame is accepted or the retry budget
// of a phase is exhausted. Transport errors end the session immediately.
func (s *Session) Run(ctx context.Context) error {
	var raw [frame.Size]byte

	for !s.fsm.Is(PhaseDone) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := readFrame(s.rw, raw[:]); err != nil {
			return err
		}

		err := s.handle(ctx, raw[:])
		s.stats.Update(err)
		if err == nil {
			s.gov.Record(true)
			if err := writeAck(s.rw, frame.AckOK); err != nil {
				return err
			}
			continue
		}

		var rej *RejectError
		if !errors.As(err, &rej) {
			return err
		}

		s.gov.Record(false)
		s.log.Warn("frame rejected",
			"phase", rej.Phase,
			"reason", rej.Reason,
			"failures", s.gov.Failures(),
			"err", rej.Err)

		if s.gov.ShouldAbort() {
			return s.abort(ctx)
		}
		if err := writeAck(s.rw, frame.AckError); err != nil {
			return err
		}
	}

	s.log.Debug("session statistics", "summary", s.stats.String())
	return nil
}

func (s *Session) handle(ctx context.Context, raw []byte) error {
	phase := s.fsm.Current()

	// Nothing of an unauthenticated frame is looked at
	p, err := s.codec.Decode(raw)
	if err != nil {
		return reject(phase, "authentication failed", err)
	}

	switch phase {
	case PhaseMetadata:
		return s.handleStart(ctx, p)
	case PhaseFirmware:
		return s.handleData(ctx, p, int(s.start.FirmwareSize), eventFirmwareStored)
	case PhaseMessage:
		return s.handleData(ctx, p, int(s.start.MessageSize), eventMessageStored)
	case PhaseEnd:
		return s.handleEnd(ctx, p)
	default:
		return fmt.Errorf("session is %s", phase)
	}
}

func (s *Session) handleStart(ctx context.Context, p frame.Payload) error {
	phase := s.fsm.Current()
	if p.Type() != frame.TypeStart {
		return wrongType(phase, p)
	}
	start, err := frame.ParseStart(p)
	if err != nil {
		return reject(phase, "malformed start frame", err)
	}

	installed, err := s.store.CurrentVersion()
	if err != nil {
		return reject(phase, "metadata read failed", err)
	}
	if !metadata.Accept(installed, start.Version) {
		return reject(phase,
			fmt.Sprintf("version %d is older than installed version %d", start.Version, installed),
			ErrVersionRejected)
	}

	version := start.Version
	if version == 0 {
		version = installed
	}
	rec := metadata.Record{Version: version, FirmwareSize: start.FirmwareSize}
	if rec.Pack() == metadata.Erased {
		return reject(phase, "version and size pair is reserved", metadata.ErrReservedRecord)
	}

	s.start = start
	s.version = version

	if s.cfg.EagerMetadata {
		if err := s.commit(); err != nil {
			return reject(phase, "metadata commit failed", err)
		}
	}

	s.log.Info("update started",
		"version", start.Version,
		"installed", installed,
		"firmware_size", start.FirmwareSize,
		"message_size", start.MessageSize)

	if err := s.fsm.Event(ctx, eventStartAccepted); err != nil {
		return err
	}
	return s.skipEmpty(ctx)
}

func (s *Session) handleData(ctx context.Context, p frame.Payload, total int, done string) error {
	phase := s.fsm.Current()
	if p.Type() != frame.TypeData {
		return wrongType(phase, p)
	}

	remaining := total - s.written
	n := min(frame.DataSize, remaining)
	last := n == remaining

	addr := s.writer.Address()
	if err := s.writer.Append(p.Data()[:n], last); err != nil {
		return reject(phase, "flash write failed", err)
	}
	s.written += n

	if phase == PhaseFirmware {
		s.stats.FirmwareBytes += uint64(n)
	} else {
		s.stats.MessageBytes += uint64(n)
	}
	s.log.Debug("data accepted", "phase", phase, "addr", fmt.Sprintf("0x%05X", addr), "bytes", n, "written", s.written)

	if !last {
		return nil
	}
	if err := s.fsm.Event(ctx, done); err != nil {
		return err
	}
	return s.skipEmpty(ctx)
}

func (s *Session) handleEnd(ctx context.Context, p frame.Payload) error {
	phase := s.fsm.Current()
	if p.Type() != frame.TypeEnd {
		return wrongType(phase, p)
	}

	if !s.cfg.EagerMetadata {
		if err := s.commit(); err != nil {
			return reject(phase, "metadata commit failed", err)
		}
	}

	s.log.Info("update complete",
		"version", s.version,
		"firmware_size", s.start.FirmwareSize,
		"pages", s.writer.Pages())

	return s.fsm.Event(ctx, eventEndAccepted)
}

// skipEmpty advances past streams the start frame declared as empty
func (s *Session) skipEmpty(ctx context.Context) error {
	if s.fsm.Is(PhaseFirmware) && s.start.FirmwareSize == 0 {
		if err := s.fsm.Event(ctx, eventFirmwareStored); err != nil {
			return err
		}
	}
	if s.fsm.Is(PhaseMessage) && s.start.MessageSize == 0 {
		if err := s.fsm.Event(ctx, eventMessageStored); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) commit() error {
	rec := metadata.Record{Version: s.version, FirmwareSize: s.start.FirmwareSize}
	if err := s.store.Commit(rec); err != nil {
		return err
	}
	s.log.Debug("metadata committed", "record", rec.String())
	return nil
}

// abort tells the host the session is over and resets the device
func (s *Session) abort(ctx context.Context) error {
	phase := s.fsm.Current()
	s.log.Error("retry budget exceeded, resetting", "phase", phase, "failures", s.gov.Failures())

	if err := s.fsm.Event(ctx, eventAbort); err != nil {
		return err
	}
	ackErr := writeAck(s.rw, frame.AckEnd)
	s.cfg.Resetter.Reset()

	if ackErr != nil {
		return errors.Join(fmt.Errorf("%s: %w", phase, ErrRetryBudgetExceeded), ackErr)
	}
	return fmt.Errorf("%s: %w", phase, ErrRetryBudgetExceeded)
}

func (s *Session) enterPhase(e *fsm.Event) {
	s.gov.Reset()
	s.written = 0
	s.log.Debug("phase change", "event", e.Event, "from", e.Src, "to", e.Dst)
}

func reject(phase, reason string, err error) error {
	return &RejectError{Phase: phase, Reason: reason, Err: err}
}

func wrongType(phase string, p frame.Payload) error {
	return reject(phase,
		fmt.Sprintf("got %s frame (0x%02X)", frame.FormatType(p.Type()), uint8(p.Type())),
		ErrProtocolViolation)
}

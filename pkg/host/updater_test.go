// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Thermoquad/ember/pkg/flash"
	"github.com/Thermoquad/ember/pkg/frame"
	"github.com/Thermoquad/ember/pkg/metadata"
	"github.com/Thermoquad/ember/pkg/update"
)

// scriptedDevice answers with canned bytes and records what the host sent
type scriptedDevice struct {
	replies *bytes.Reader
	sent    bytes.Buffer
}

func newScriptedDevice(replies ...[]byte) *scriptedDevice {
	return &scriptedDevice{replies: bytes.NewReader(bytes.Join(replies, nil))}
}

func (d *scriptedDevice) Read(p []byte) (int, error) {
	return d.replies.Read(p)
}

func (d *scriptedDevice) Write(p []byte) (int, error) {
	return d.sent.Write(p)
}

func ack(status byte) []byte {
	return []byte{frame.AckType, status}
}

func testBundle(t *testing.T) []byte {
	t.Helper()
	blob, err := Protect(testCodec(t), Image{Firmware: testFirmware(20), Version: 3, Message: "m"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return blob // start, 2 data, 1 message, end
}

// ============================================================
// Updater Tests (scripted device)
// ============================================================

func TestUpdater_HappyPath(t *testing.T) {
	blob := testBundle(t)
	dev := newScriptedDevice(
		[]byte("boot banner\nU"),
		ack(frame.AckOK), ack(frame.AckOK), ack(frame.AckOK), ack(frame.AckOK), ack(frame.AckOK),
	)

	var progress []Progress
	u := NewUpdater(dev, WithProgress(func(p Progress) { progress = append(progress, p) }))
	if err := u.Update(context.Background(), blob); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	want := append([]byte{frame.CommandUpdate}, blob...)
	if !bytes.Equal(dev.sent.Bytes(), want) {
		t.Error("host did not send 'U' followed by the bundle")
	}
	if len(progress) != 5 || progress[4].Percent() != 1 {
		t.Errorf("progress = %+v", progress)
	}
}

func TestUpdater_ResendsOnError(t *testing.T) {
	blob := testBundle(t)
	dev := newScriptedDevice(
		[]byte("U"),
		ack(frame.AckOK),
		ack(frame.AckError), ack(frame.AckError), ack(frame.AckOK),
		ack(frame.AckOK), ack(frame.AckOK), ack(frame.AckOK),
	)

	if err := NewUpdater(dev).Update(context.Background(), blob); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	second := blob[frame.Size : 2*frame.Size]
	sent := dev.sent.Bytes()[1:]
	if got := bytes.Count(sent, second); got != 3 {
		t.Errorf("second frame sent %d times, want 3", got)
	}
}

func TestUpdater_Failures(t *testing.T) {
	tests := []struct {
		name    string
		replies [][]byte
		opts    []UpdaterOption
		wantErr error
	}{
		{
			name:    "device aborts",
			replies: [][]byte{[]byte("U"), ack(frame.AckOK), ack(frame.AckError), ack(frame.AckEnd)},
			wantErr: ErrDeviceAborted,
		},
		{
			name:    "resend budget exhausted",
			replies: [][]byte{[]byte("U"), ack(frame.AckError), ack(frame.AckError), ack(frame.AckError)},
			opts:    []UpdaterOption{WithMaxResends(2)},
			wantErr: ErrFrameRejected,
		},
		{
			name:    "bad response type",
			replies: [][]byte{[]byte("U"), {0x07, 0x00}},
			wantErr: ErrUnexpectedResponse,
		},
		{
			name:    "bad status",
			replies: [][]byte{[]byte("U"), ack(0x09)},
			wantErr: ErrUnexpectedResponse,
		},
		{
			name:    "no echo",
			replies: [][]byte{bytes.Repeat([]byte{'x'}, maxEchoSkip+1)},
			wantErr: ErrUnexpectedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newScriptedDevice(tt.replies...)
			err := NewUpdater(dev, tt.opts...).Update(context.Background(), testBundle(t))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUpdater_RejectsRaggedBundle(t *testing.T) {
	dev := newScriptedDevice()
	if err := NewUpdater(dev).Update(context.Background(), make([]byte, 47)); err == nil {
		t.Error("expected error")
	}
	if dev.sent.Len() != 0 {
		t.Error("ragged bundle reached the device")
	}
}

func TestUpdater_Boot(t *testing.T) {
	dev := newScriptedDevice([]byte("B"))
	if err := NewUpdater(dev).Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dev.sent.Bytes(), []byte{frame.CommandBoot}) {
		t.Errorf("sent % X", dev.sent.Bytes())
	}
}

// ============================================================
// Host / Device End-to-end (net.Pipe)
// ============================================================

type device struct {
	mem     *flash.Memory
	boots   chan uint32
	console bytes.Buffer
	done    chan error
}

func startDevice(t *testing.T, conn net.Conn, secrets *Secrets) *device {
	t.Helper()
	codec, err := secrets.Codec()
	if err != nil {
		t.Fatal(err)
	}
	d := &device{
		mem:   flash.NewMemory(flash.DefaultSize, flash.PageSize),
		boots: make(chan uint32, 1),
		done:  make(chan error, 1),
	}
	bl, err := update.New(conn, codec, d.mem,
		update.BootFunc(func(addr uint32) error { d.boots <- addr; return nil }),
		update.WithConsole(&d.console),
		update.WithInitialImage(testFirmware(64), update.InitialMessage))
	if err != nil {
		t.Fatal(err)
	}
	go func() { d.done <- bl.Serve(context.Background()) }()
	return d
}

func (d *device) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-d.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("device did not stop")
		return nil
	}
}

func TestEndToEnd_UpdateAndBoot(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer hostConn.Close()
	secrets := testSecrets(t)
	dev := startDevice(t, devConn, secrets)

	codec, _ := secrets.Codec()
	firmware := testFirmware(1500)
	blob, err := Protect(codec, Image{Firmware: firmware, Version: 7, Message: "ember 7"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	u := NewUpdater(hostConn)
	if err := u.Update(context.Background(), blob); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := u.Boot(context.Background()); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	if err := dev.wait(t); err != nil {
		t.Fatalf("device: %v", err)
	}

	if addr := <-dev.boots; addr != flash.FirmwareBase {
		t.Errorf("booted 0x%X", addr)
	}
	if dev.console.String() != "ember 7\n" {
		t.Errorf("console = %q", dev.console.String())
	}
	rec, _, _ := metadata.NewStore(dev.mem, flash.MetadataBase, flash.PageSize).Load()
	if rec != (metadata.Record{Version: 7, FirmwareSize: 1500}) {
		t.Errorf("metadata = %+v", rec)
	}
	got := make([]byte, len(firmware))
	if err := dev.mem.Read(flash.FirmwareBase, got); err != nil || !bytes.Equal(got, firmware) {
		t.Error("firmware mismatch on device")
	}
}

func TestEndToEnd_WrongKeyAborts(t *testing.T) {
	hostConn, devConn := net.Pipe()
	dev := startDevice(t, devConn, testSecrets(t))

	// Sealed under different secrets: every frame fails authentication
	attacker, err := GenerateSecrets(nil)
	if err != nil {
		t.Fatal(err)
	}
	codec, _ := attacker.Codec()
	blob, err := Protect(codec, Image{Firmware: testFirmware(30), Version: 9, Message: "evil"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = NewUpdater(hostConn).Update(context.Background(), blob)
	if !errors.Is(err, ErrDeviceAborted) {
		t.Fatalf("expected ErrDeviceAborted, got %v", err)
	}

	hostConn.Close()
	if err := dev.wait(t); err == nil {
		t.Error("device loop should end when the link closes")
	}

	rec, _, _ := metadata.NewStore(dev.mem, flash.MetadataBase, flash.PageSize).Load()
	if rec.Version != update.InitialVersion {
		t.Errorf("metadata = %+v, want the initial image", rec)
	}
}

func TestEndToEnd_RollbackRefused(t *testing.T) {
	hostConn, devConn := net.Pipe()
	defer hostConn.Close()
	secrets := testSecrets(t)
	dev := startDevice(t, devConn, secrets)
	codec, _ := secrets.Codec()

	// Initial image is version 2; version 1 is a downgrade
	blob, err := Protect(codec, Image{Firmware: testFirmware(10), Version: 1, Message: "old"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = NewUpdater(hostConn).Update(context.Background(), blob)
	if !errors.Is(err, ErrDeviceAborted) {
		t.Fatalf("expected ErrDeviceAborted, got %v", err)
	}

	u := NewUpdater(hostConn)
	if err := u.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := dev.wait(t); err != nil {
		t.Fatalf("device: %v", err)
	}
	if dev.console.String() != update.InitialMessage+"\n" {
		t.Errorf("console = %q", dev.console.String())
	}
}

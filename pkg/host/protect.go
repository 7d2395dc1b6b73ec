// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package host

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/Thermoquad/ember/pkg/frame"
)

// Image is a firmware build and the release message shown when it boots
type Image struct {
	Firmware []byte
	Version  uint16
	Message  string
}

// Protect seals an image into the frame stream the device expects: a start
// frame, the firmware in 15-byte data frames, the NUL-terminated release
// message in data frames, and an end frame. Every frame gets a fresh nonce
// and unused payload bytes are random. A nil rnd uses crypto/rand.
func Protect(codec *frame.Codec, img Image, rnd io.Reader) ([]byte, error) {
	if errs := ValidateImage(img); len(errs) > 0 {
		return nil, &errs[0]
	}
	if rnd == nil {
		rnd = rand.Reader
	}

	message := append([]byte(img.Message), 0)
	start := frame.Start{
		Version:      img.Version,
		FirmwareSize: uint16(len(img.Firmware)),
		MessageSize:  uint16(len(message)),
	}

	n := 2 + frame.Chunks(len(img.Firmware)) + frame.Chunks(len(message))
	blob := make([]byte, 0, n*frame.Size)

	seal := func(p frame.Payload, err error) error {
		if err != nil {
			return err
		}
		raw, err := codec.SealRandom(p, rnd)
		if err != nil {
			return err
		}
		blob = append(blob, raw[:]...)
		return nil
	}

	if err := seal(frame.NewStartPayload(start, rnd)); err != nil {
		return nil, fmt.Errorf("start frame: %w", err)
	}
	for _, stream := range [][]byte{img.Firmware, message} {
		for off := 0; off < len(stream); off += frame.DataSize {
			chunk := stream[off:min(off+frame.DataSize, len(stream))]
			if err := seal(frame.NewDataPayload(chunk, rnd)); err != nil {
				return nil, fmt.Errorf("data frame at %d: %w", off, err)
			}
		}
	}
	if err := seal(frame.NewEndPayload(rnd)); err != nil {
		return nil, fmt.Errorf("end frame: %w", err)
	}

	return blob, nil
}

// Frames splits a protected bundle into its 48-byte frames
func Frames(blob []byte) ([][]byte, error) {
	if len(blob) == 0 || len(blob)%frame.Size != 0 {
		return nil, fmt.Errorf("bundle length %d is not a multiple of %d", len(blob), frame.Size)
	}
	frames := make([][]byte, 0, len(blob)/frame.Size)
	for off := 0; off < len(blob); off += frame.Size {
		frames = append(frames, blob[off:off+frame.Size])
	}
	return frames, nil
}

// Open authenticates every frame of a bundle and reassembles the image,
// checking the frame sequence the same way the device does
func Open(codec *frame.Codec, blob []byte) (Image, error) {
	frames, err := Frames(blob)
	if err != nil {
		return Image{}, err
	}

	payloads := make([]frame.Payload, len(frames))
	for i, raw := range frames {
		if payloads[i], err = codec.Decode(raw); err != nil {
			return Image{}, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	start, err := frame.ParseStart(payloads[0])
	if err != nil {
		return Image{}, fmt.Errorf("frame 0: %w", err)
	}

	want := 2 + frame.Chunks(int(start.FirmwareSize)) + frame.Chunks(int(start.MessageSize))
	if len(payloads) != want {
		return Image{}, fmt.Errorf("bundle has %d frames, start frame implies %d", len(payloads), want)
	}
	if last := payloads[len(payloads)-1]; last.Type() != frame.TypeEnd {
		return Image{}, fmt.Errorf("frame %d: %s frame where END expected", len(payloads)-1, frame.FormatType(last.Type()))
	}

	data := payloads[1 : len(payloads)-1]
	firmware, data, err := collect(data, int(start.FirmwareSize))
	if err != nil {
		return Image{}, err
	}
	message, _, err := collect(data, int(start.MessageSize))
	if err != nil {
		return Image{}, err
	}
	if len(message) > 0 && message[len(message)-1] == 0 {
		message = message[:len(message)-1]
	}

	return Image{
		Firmware: firmware,
		Version:  start.Version,
		Message:  string(message),
	}, nil
}

func collect(payloads []frame.Payload, size int) ([]byte, []frame.Payload, error) {
	out := make([]byte, 0, size)
	for len(out) < size {
		p := payloads[0]
		if p.Type() != frame.TypeData {
			return nil, nil, fmt.Errorf("%s frame where DATA expected", frame.FormatType(p.Type()))
		}
		n := min(frame.DataSize, size-len(out))
		out = append(out, p.Data()[:n]...)
		payloads = payloads[1:]
	}
	return out, payloads, nil
}
